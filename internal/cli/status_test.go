package cli

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := findCommand(t, "status")
		assert.Contains(t, cmd.Long, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		output, err := execute(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
	})

	t.Run("running", func(t *testing.T) {
		path, cfg := writeTestConfig(t)
		writeOwnPID(t, cfg)

		output, err := execute(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "PID: ")
		assert.Contains(t, output, "Uptime: ")
		assert.NotContains(t, output, "Connections:")

		require.NoError(t, os.Remove(cfg.PIDFile()))
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
