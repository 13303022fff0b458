package gemini

type ImageInput struct {
	Data     []byte
	MimeType string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}
