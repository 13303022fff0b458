package rembg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"pin-ad-studio/internal/imagecodec"
)

// Remover strips the background of a subject photo and returns a PNG whose
// background pixels are transparent.
type Remover interface {
	RemoveBackground(ctx context.Context, image []byte) ([]byte, error)
}

const defaultBaseURL = "https://api.remove.bg"

type Options struct {
	APIKey     string
	BaseURL    string
	Size       string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to a remove.bg compatible API.
type Client struct {
	apiKey     string
	baseURL    string
	size       string
	httpClient *http.Client
	logger     *slog.Logger
}

// ProviderError carries the provider's own failure message.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("background removal %d: %s", e.Status, e.Message)
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = "auto"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		size:       size,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

func (c *Client) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	if c.httpClient == nil {
		return nil, errors.New("http client is nil")
	}
	if len(image) == 0 {
		return nil, errors.New("image is empty")
	}

	info, err := imagecodec.Probe(image)
	if err != nil {
		return nil, fmt.Errorf("inspect input: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image_file", "pin."+info.Format)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = mw.WriteField("size", c.size)
	_ = mw.WriteField("format", "png")
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	url := c.baseURL + "/v1.0/removebg"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("content-type", mw.FormDataContentType())
	req.Header.Set("accept", "image/png")
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("background removal done", "status", resp.StatusCode, "bytes", len(raw), "dur_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 400 {
		return nil, &ProviderError{Status: resp.StatusCode, Message: providerMessage(raw)}
	}
	if len(raw) == 0 {
		return nil, errors.New("background removal returned an empty image")
	}

	return raw, nil
}

type apiErrors struct {
	Errors []struct {
		Title  string `json:"title"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func providerMessage(raw []byte) string {
	var decoded apiErrors
	if err := json.Unmarshal(raw, &decoded); err == nil && len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msg := e.Title
			if e.Detail != "" {
				msg += ": " + e.Detail
			}
			msgs = append(msgs, msg)
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(raw))
}
