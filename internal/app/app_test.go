package app

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pin-ad-studio/internal/config"
	"pin-ad-studio/internal/rembg"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	pin := filepath.Join(dir, "dog.png")
	require.NoError(t, os.WriteFile(pin, []byte("pin"), 0o644))

	d, err := LoadDefaults(config.Config{DefaultX: 100, DefaultScale: 1.2, MinScale: 0.1, DefaultPinPath: pin})
	require.NoError(t, err)
	assert.Equal(t, []byte("pin"), d.Pin)
	assert.Nil(t, d.Advertiser)
	assert.Equal(t, 100, d.X)
	assert.Equal(t, 1.2, d.Scale)

	_, err = LoadDefaults(config.Config{DefaultAdvertiserPath: filepath.Join(dir, "missing.jpg")})
	assert.ErrorContains(t, err, "default advertiser image")
}

func TestNewRemover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := NewRemover(config.Config{RembgProvider: config.RembgProviderNone}, http.DefaultClient, logger)
	require.NoError(t, err)
	assert.IsType(t, rembg.Passthrough{}, r)

	r, err = NewRemover(config.Config{RembgProvider: config.RembgProviderRemoveBG, RembgAPIKey: "k"}, http.DefaultClient, logger)
	require.NoError(t, err)
	assert.IsType(t, &rembg.Client{}, r)

	_, err = NewRemover(config.Config{RembgProvider: "other"}, http.DefaultClient, logger)
	assert.Error(t, err)
}
