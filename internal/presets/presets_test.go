package presets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pin-ad-studio/internal/compositor"
)

const sample = `
[[preset]]
name = "Gazebo left"
x = 40
y = 220
scale = 0.8

[[preset]]
name = "dog image"
x = 120
y = 10
scale = 1.5
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadMissingFileReturnsBuiltin(t *testing.T) {
	list, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Builtin(), list)

	list, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Builtin(), list)
}

func TestLoadMergesAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	writeFile(t, path, sample)

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list, 2)

	c := NewCatalog(list)
	dog, ok := c.Get("Dog_Image")
	require.True(t, ok)
	assert.Equal(t, compositor.Placement{X: 120, Y: 10, Scale: 1.5}, dog.Placement())

	gz, ok := c.Get("gazebo-left")
	require.True(t, ok)
	assert.Equal(t, 220, gz.Y)

	names := []string{}
	for _, p := range c.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"dog image", "Gazebo left"}, names)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[[preset]]\nname = \"zero\"\nscale = 0\n")
	_, err := Load(bad)
	assert.ErrorContains(t, err, "scale must be positive")

	noName := filepath.Join(dir, "noname.toml")
	writeFile(t, noName, "[[preset]]\nscale = 1\n")
	_, err = Load(noName)
	assert.ErrorContains(t, err, "name is required")

	broken := filepath.Join(dir, "broken.toml")
	writeFile(t, broken, "[[preset]\nname=")
	_, err = Load(broken)
	assert.ErrorContains(t, err, "parsing presets")
}

func TestCatalogGetUnknown(t *testing.T) {
	c := NewCatalog(Builtin())
	_, ok := c.Get("")
	assert.False(t, ok)
	_, ok = c.Get("cat image")
	assert.False(t, ok)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	writeFile(t, path, "")

	list, err := Load(path)
	require.NoError(t, err)
	c := NewCatalog(list)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, path, c, nil))

	writeFile(t, path, sample)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("Gazebo left")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	writeFile(t, path, "not = [valid")
	time.Sleep(2 * reloadDebounce)
	_, ok := c.Get("Gazebo left")
	assert.True(t, ok, "failed reload keeps previous presets")
}
