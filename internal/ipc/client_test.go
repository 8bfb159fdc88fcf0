package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminalcp/terminalcp/internal/terminal"
)

// TestMain lets this test binary double as the daemon autoStart spawns:
// re-executing the test binary itself under a sentinel env var is the
// standard way to exercise subprocess-spawning code without shipping a
// separate build artifact (the same trick os/exec's own tests use for
// their "helper process" pattern).
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_DAEMON") == "1" {
		runHelperDaemon()
		return
	}
	os.Exit(m.Run())
}

// runHelperDaemon binds the socket path passed as the last argv entry
// and serves the real protocol, just enough for autoStart's
// reachability poll and a round-trip request to succeed.
func runHelperDaemon() {
	args := os.Args
	socketPath := args[len(args)-1]

	mgr := terminal.NewManager(terminal.ManagerOptions{})
	srv := NewServer(mgr, socketPath, ServerOptions{})
	if err := srv.Listen(); err != nil {
		fmt.Fprintln(os.Stderr, "helper daemon: listen:", err)
		os.Exit(1)
	}
	_ = srv.Serve()
}

// TestAutoStartSpawnsDaemon exercises Client.autoStart end to end (spec
// §4.5 auto-start): nothing is listening on socketPath, so Dial must
// spawn a detached daemon and poll until it answers.
func TestAutoStartSpawnsDaemon(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "server.sock")

	t.Setenv("GO_WANT_HELPER_DAEMON", "1")
	exe, err := os.Executable()
	require.NoError(t, err)

	client, err := Dial(socketPath, ClientOptions{
		DaemonArgs: []string{exe, socketPath},
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	list, err := client.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Ask the spawned daemon to shut itself down so it doesn't linger
	// as an orphan process after the test exits.
	require.NoError(t, client.KillServer(ctx))
}
