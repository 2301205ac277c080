package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := findCommand(t, "stop")
		assert.Contains(t, cmd.Short, "Stop the memstream daemon service")
		assert.NotNil(t, cmd.Flags().Lookup("timeout"))
	})

	t.Run("not running", func(t *testing.T) {
		path, cfg := writeTestConfig(t)

		_, err := execute(t, "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
		assert.NoFileExists(t, cfg.PIDFile())
	})
}
