package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "memstream.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging":{"level":"info"}}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(configPath), func(cfg *Config) { changes <- cfg }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging":{"level":"debug"}}`), 0644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestWatcher_IgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "memstream.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(configPath), func(cfg *Config) { changes <- cfg }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging":{"level":"shouting"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))

	select {
	case cfg := <-changes:
		t.Fatalf("unexpected reload: %v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "memstream.json")
	w, err := NewWatcher(NewLoader(configPath), nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
