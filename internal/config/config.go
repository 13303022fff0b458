package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RembgProviderRemoveBG = "removebg"
	RembgProviderNone     = "none"
)

type Config struct {
	TelegramToken string
	GeminiAPIKey  string

	LogLevel string
	Debug    bool

	PreferIPv4 bool
	WebAddr    string

	MediaGroupDebounce time.Duration
	MaxConcurrent      int
	SessionTTL         time.Duration
	RequestTimeout     time.Duration
	HTTPTimeout        time.Duration
	RemoveTimeout      time.Duration
	AdCopyTimeout      time.Duration
	MaxUploadBytes     int64

	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiModel      string

	RembgProvider string
	RembgAPIKey   string
	RembgBaseURL  string

	PresetsPath           string
	DefaultPinPath        string
	DefaultAdvertiserPath string

	DefaultX     int
	DefaultY     int
	DefaultScale float64
	MinScale     float64
}

// Load reads the environment. Front-end specific requirements are checked
// by RequireTelegram.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:              strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:                 getEnvBool("DEBUG", false),
		PreferIPv4:            getEnvBool("PREFER_IPV4", true),
		WebAddr:               strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		MediaGroupDebounce:    time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:         getEnvInt("MAX_CONCURRENT", 4),
		SessionTTL:            time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		RequestTimeout:        time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		HTTPTimeout:           time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RemoveTimeout:         time.Duration(getEnvInt("REMBG_TIMEOUT_SECONDS", 90)) * time.Second,
		AdCopyTimeout:         time.Duration(getEnvInt("AD_COPY_TIMEOUT_SECONDS", 90)) * time.Second,
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_MB", 25)) << 20,
		GeminiBaseURL:         strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:      strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiModel:           strings.TrimSpace(getEnv("GEMINI_MODEL", "gemini-2.5-flash")),
		RembgProvider:         strings.ToLower(strings.TrimSpace(getEnv("REMBG_PROVIDER", RembgProviderRemoveBG))),
		RembgBaseURL:          strings.TrimSpace(getEnv("REMBG_BASE_URL", "https://api.remove.bg")),
		PresetsPath:           strings.TrimSpace(getEnv("PRESETS_PATH", "presets.toml")),
		DefaultPinPath:        strings.TrimSpace(os.Getenv("DEFAULT_PIN_PATH")),
		DefaultAdvertiserPath: strings.TrimSpace(os.Getenv("DEFAULT_ADVERTISER_PATH")),
		DefaultX:              getEnvInt("DEFAULT_X", 100),
		DefaultY:              getEnvInt("DEFAULT_Y", 0),
		DefaultScale:          getEnvFloat("DEFAULT_SCALE", 1.2),
		MinScale:              getEnvFloat("MIN_SCALE", 0.1),
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.RembgAPIKey = strings.TrimSpace(os.Getenv("REMBG_API_KEY"))

	switch {
	case cfg.GeminiAPIKey == "":
		return Config{}, errors.New("GEMINI_API_KEY is required")
	case cfg.RembgProvider != RembgProviderRemoveBG && cfg.RembgProvider != RembgProviderNone:
		return Config{}, fmt.Errorf("REMBG_PROVIDER must be %q or %q", RembgProviderRemoveBG, RembgProviderNone)
	case cfg.RembgProvider == RembgProviderRemoveBG && cfg.RembgAPIKey == "":
		return Config{}, errors.New("REMBG_API_KEY is required (or set REMBG_PROVIDER=none)")
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.MinScale <= 0 {
		cfg.MinScale = 0.1
	}
	if cfg.DefaultScale < cfg.MinScale {
		cfg.DefaultScale = 1.2
	}

	return cfg, nil
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
