package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "memstream.json")
		content := `{
			"transport": {"port": 4100, "heartbeat": "", "max_line_bytes": 2048},
			"logging": {"level": "debug"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 4100, cfg.Transport.Port)
		assert.Equal(t, "", cfg.Transport.Heartbeat)
		assert.Equal(t, 2048, cfg.Transport.MaxLineBytes)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "127.0.0.1", cfg.Transport.Host)
		assert.True(t, cfg.Metrics.Enabled)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "memstream.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"transport":{"port":4100}}`), 0644))
		t.Setenv("MEMSTREAM_TRANSPORT_PORT", "5200")
		t.Setenv("MEMSTREAM_LOGGING_LEVEL", "warn")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 5200, cfg.Transport.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "memstream.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"transport":`), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "memstream.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"transport":{"port":70000}}`), 0644))

		_, err := Load(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport.port")
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "memstream.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Transport.Port = 4321
	cfg.Logging.Level = "error"
	cfg.RPC.ReplayTTL = 60000
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 4321, loaded.Transport.Port)
	assert.Equal(t, "error", loaded.Logging.Level)
	assert.Equal(t, 60000, loaded.RPC.ReplayTTL)
	assert.Equal(t, cfg.Transport.Heartbeat, loaded.Transport.Heartbeat)
}

func TestLoaderGetConfigPath(t *testing.T) {
	assert.Equal(t, "/tmp/x.json", NewLoader("/tmp/x.json").GetConfigPath())

	home, err := os.UserHomeDir()
	if err == nil {
		assert.Equal(t, filepath.Join(home, ".memstream", "memstream.json"), NewLoader("").GetConfigPath())
	}
}
