package adcopy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"pin-ad-studio/internal/gemini"
)

// FailureMessage is shown instead of ad copy when generation fails.
const FailureMessage = "Error generating advertisement text."

type Describer interface {
	Describe(ctx context.Context, prompt string, images []gemini.ImageInput) (gemini.Response, error)
}

type Options struct {
	Model  Describer
	Logger *slog.Logger
}

type Writer struct {
	model  Describer
	logger *slog.Logger
}

func NewWriter(opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{model: opts.Model, logger: logger}
}

func (w *Writer) WriteAdCopy(ctx context.Context, image []byte, opts PromptOptions) (string, error) {
	if w.model == nil {
		return "", errors.New("ad copy model is not configured")
	}
	if len(image) == 0 {
		return "", errors.New("image is empty")
	}

	resp, err := w.model.Describe(ctx, BuildPrompt(opts), []gemini.ImageInput{{Data: image, MimeType: "image/png"}})
	if err != nil {
		return "", err
	}

	w.logger.Info("ad copy generated",
		"finish_reason", resp.FinishReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return strings.TrimSpace(resp.Text), nil
}
