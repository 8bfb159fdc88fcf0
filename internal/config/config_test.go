package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHome(t *testing.T) {
	t.Run("creates the state directory and resolves paths under it", func(t *testing.T) {
		home := t.TempDir()

		rc, err := FromHome(home)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(home, ".terminalcp"), rc.Dir)
		assert.Equal(t, filepath.Join(home, ".terminalcp", "server.sock"), rc.SocketPath)
		assert.Equal(t, filepath.Join(home, ".terminalcp", "daemon.log"), rc.LogPath)

		info, err := os.Stat(rc.Dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("is idempotent when the directory already exists", func(t *testing.T) {
		home := t.TempDir()

		_, err := FromHome(home)
		require.NoError(t, err)

		_, err = FromHome(home)
		require.NoError(t, err)
	})
}
