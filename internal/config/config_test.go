package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().Gateway.Port, cfg.Gateway.Port)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Gateway.Port = 19999
	cfg.Gateway.Token = "secret"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 19999, loaded.Gateway.Port)
	assert.Equal(t, "secret", loaded.Gateway.Token)
}

func TestSave_RotatesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()

	for i := 0; i < maxBackups+3; i++ {
		cfg.Gateway.Port = 20000 + i
		require.NoError(t, Save(path, cfg))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), maxBackups)
}

func TestApplyEnvOverlay_OverridesConfig(t *testing.T) {
	t.Setenv("MOONBOT_GATEWAY_PORT", "4242")
	t.Setenv("MOONBOT_GATEWAY_HOST", "0.0.0.0")
	t.Setenv("MOONBOT_TRACING_ENDPOINT", "collector:4317")

	cfg := Default()
	applyEnvOverlay(cfg)

	assert.Equal(t, 4242, cfg.Gateway.Port)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestHash_ChangesWithContent(t *testing.T) {
	cfg := Default()
	h1 := cfg.Hash()
	cfg.Gateway.Port++
	h2 := cfg.Hash()
	assert.NotEqual(t, h1, h2)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "foo"), ExpandHome("~/foo"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}

func TestLoad_JSON5CommentsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := []byte(`{
		// a comment
		"gateway": { "port": 7777, "host": "127.0.0.1" },
	}`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
}
