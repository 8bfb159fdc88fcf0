package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminalcp/terminalcp/internal/terminal"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")

	mgr := terminal.NewManager(terminal.ManagerOptions{})
	srv := NewServer(mgr, socketPath, ServerOptions{})
	require.NoError(t, srv.Listen())

	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Shutdown)

	return srv, socketPath
}

type recordingEvents struct {
	mu   sync.Mutex
	got  []string
}

func (r *recordingEvents) handle(terminalID, kind string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, kind+":"+string(data))
}

func (r *recordingEvents) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	copy(out, r.got)
	return out
}

func dialClient(t *testing.T, socketPath string, onEvent EventHandler) *Client {
	t.Helper()
	c, err := Dial(socketPath, ClientOptions{OnEvent: onEvent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStartStdinStdoutRoundTrip(t *testing.T) {
	_, socketPath := startServer(t)
	events := &recordingEvents{}
	client := dialClient(t, socketPath, events.handle)
	ctx := context.Background()

	id, err := client.Start(ctx, "cat", "", nil, 80, 24)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, client.Subscribe(ctx, id))
	require.NoError(t, client.Stdin(ctx, id, "hello\r", false))

	require.Eventually(t, func() bool {
		for _, ev := range events.snapshot() {
			if len(ev) > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	stream, err := client.Stdout(ctx, id, "stream", 0, 0)
	require.NoError(t, err)
	assert.Contains(t, stream, "hello")

	require.NoError(t, client.Stop(ctx, id, false))
}

func TestListAndUnknownTerminal(t *testing.T) {
	_, socketPath := startServer(t)
	client := dialClient(t, socketPath, nil)
	ctx := context.Background()

	id, err := client.Start(ctx, "cat", "", nil, 80, 24)
	require.NoError(t, err)

	list, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.True(t, list[0].Running)

	_, err = client.Stdout(ctx, "no-such-id", "screen", 0, 0)
	require.Error(t, err)
}

func TestResizeAndTermSize(t *testing.T) {
	_, socketPath := startServer(t)
	client := dialClient(t, socketPath, nil)
	ctx := context.Background()

	id, err := client.Start(ctx, "cat", "", nil, 80, 24)
	require.NoError(t, err)
	require.NoError(t, client.Resize(ctx, id, 120, 40))

	list, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 120, list[0].Cols)
	assert.Equal(t, 40, list[0].Rows)

	// The test binary has no controlling terminal on its own stdout, so
	// this also exercises TermSize's no-tty fallback to 80x24 (spec
	// §4.3: "if absent (daemon detached), returns sensible defaults").
	cols, rows, err := client.TermSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
}

func TestKillServerStopsAllTerminals(t *testing.T) {
	srv, socketPath := startServer(t)
	client := dialClient(t, socketPath, nil)
	ctx := context.Background()

	_, err := client.Start(ctx, "cat", "", nil, 80, 24)
	require.NoError(t, err)

	require.NoError(t, client.KillServer(ctx))

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(socketPath)
		return os.IsNotExist(statErr)
	}, 2*time.Second, 10*time.Millisecond)

	_ = srv
}

func TestListenRebindsOverStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")

	// A leftover regular file at the socket path simulates a daemon
	// that died without cleaning up: bind(2) reports the path as
	// already in use, but nothing answers a connection to it.
	require.NoError(t, os.WriteFile(socketPath, []byte{}, 0600))

	mgr := terminal.NewManager(terminal.ManagerOptions{})
	srv := NewServer(mgr, socketPath, ServerOptions{})
	err := srv.Listen()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
}
