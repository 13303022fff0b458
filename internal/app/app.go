// Package app wires the configured providers into a pipeline for the
// command-line, web and Telegram front-ends.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/config"
	"pin-ad-studio/internal/gemini"
	"pin-ad-studio/internal/httpclient"
	"pin-ad-studio/internal/pipeline"
	"pin-ad-studio/internal/rembg"
)

func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

func NewHTTPClient(cfg config.Config) *http.Client {
	return httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
}

func NewRemover(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (pipeline.BackgroundRemover, error) {
	switch cfg.RembgProvider {
	case config.RembgProviderRemoveBG:
		return rembg.New(rembg.Options{
			APIKey:     cfg.RembgAPIKey,
			BaseURL:    cfg.RembgBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}), nil
	case config.RembgProviderNone:
		logger.Warn("background removal disabled, pin is composited as is")
		return rembg.Passthrough{}, nil
	}
	return nil, fmt.Errorf("unknown background removal provider %q", cfg.RembgProvider)
}

func NewCopywriter(cfg config.Config, httpClient *http.Client, logger *slog.Logger) *adcopy.Writer {
	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	return adcopy.NewWriter(adcopy.Options{Model: gem, Logger: logger})
}

func NewPipeline(cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	httpClient := NewHTTPClient(cfg)

	remover, err := NewRemover(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Remover:       remover,
		Copywriter:    NewCopywriter(cfg, httpClient, logger),
		Logger:        logger,
		RemoveTimeout: cfg.RemoveTimeout,
		AdCopyTimeout: cfg.AdCopyTimeout,
		MinScale:      cfg.MinScale,
	}), nil
}

// Defaults holds the placement and asset fallbacks shared by every
// front-end.
type Defaults struct {
	X          int
	Y          int
	Scale      float64
	MinScale   float64
	Pin        []byte
	Advertiser []byte
}

// LoadDefaults reads the configured default asset files. Unset paths leave
// the corresponding asset empty.
func LoadDefaults(cfg config.Config) (Defaults, error) {
	d := Defaults{
		X:        cfg.DefaultX,
		Y:        cfg.DefaultY,
		Scale:    cfg.DefaultScale,
		MinScale: cfg.MinScale,
	}

	var err error
	if cfg.DefaultPinPath != "" {
		if d.Pin, err = os.ReadFile(cfg.DefaultPinPath); err != nil {
			return Defaults{}, fmt.Errorf("reading default pin: %w", err)
		}
	}
	if cfg.DefaultAdvertiserPath != "" {
		if d.Advertiser, err = os.ReadFile(cfg.DefaultAdvertiserPath); err != nil {
			return Defaults{}, fmt.Errorf("reading default advertiser image: %w", err)
		}
	}
	return d, nil
}
