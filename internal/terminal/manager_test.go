package terminal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminalcp/terminalcp/internal/ipcerr"
)

// startFake registers a terminal backed by a fakeProcess, bypassing the
// real PTY spawn path, and returns both the terminal id and the fake so
// the test can drive its behavior.
func startFake(t *testing.T, m *Manager, req StartRequest) (string, *fakeProcess) {
	t.Helper()
	fp := newFakeProcess()
	orig := spawnFunc
	spawnFunc = func(command, cwd string, env []string, cols, rows int) (processHandle, error) {
		return fp, nil
	}
	defer func() { spawnFunc = orig }()

	id, err := m.Start(req)
	require.NoError(t, err)
	return id, fp
}

func TestStartAssignsRunningState(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, _ := startFake(t, m, StartRequest{Command: "cat"})

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.True(t, list[0].Running)
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	m := NewManager(ManagerOptions{})
	_, err := m.Start(StartRequest{Command: "   "})
	require.Error(t, err)

	ipcErr, ok := ipcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, ipcerr.CodeBadRequest, ipcErr.Code)
}

func TestOutputIsBufferedAndRenderedOnScreen(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, fp := startFake(t, m, StartRequest{Command: "cat", Cols: 20, Rows: 5})

	fp.push([]byte("hello\r\n"))
	waitForCondition(t, func() bool {
		out, err := m.Stdout(id, StdoutStream, 0, 0)
		return err == nil && len(out) > 0
	})

	stream, err := m.Stdout(id, StdoutStream, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, stream, "hello")

	screen, err := m.Stdout(id, StdoutScreen, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, screen, "hello")
}

func TestExitTransitionsToExitedAndStopReaps(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, fp := startFake(t, m, StartRequest{Command: "cat"})

	fp.exit(7)
	waitForCondition(t, func() bool {
		list := m.List()
		return len(list) == 1 && !list[0].Running
	})

	list := m.List()
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ExitCode)
	assert.Equal(t, 7, *list[0].ExitCode)

	err := m.Stdin(id, "more input", false)
	require.Error(t, err)
	ipcErr, ok := ipcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, ipcerr.CodeExited, ipcErr.Code)

	require.NoError(t, m.Stop(id, false))
	_, err = m.Stdout(id, StdoutScreen, 0, 0)
	require.Error(t, err)
}

func TestStdinWritesTranslatedKeys(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, fp := startFake(t, m, StartRequest{Command: "cat"})

	require.NoError(t, m.Stdin(id, "C-c", true))
	assert.Equal(t, []byte{0x03}, fp.writtenBytes())
}

func TestSubscribeReceivesOutputEvents(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, fp := startFake(t, m, StartRequest{Command: "cat"})

	sink := newCollectingSink()
	require.NoError(t, m.Subscribe(id, "conn-1", sink))

	fp.push([]byte("abc"))
	waitForCondition(t, func() bool { return len(sink.events()) > 0 })

	events := sink.events()
	require.NotEmpty(t, events)
	assert.Equal(t, "output", events[0].Kind)
	assert.Equal(t, []byte("abc"), events[0].Data)

	m.Unsubscribe(id, "conn-1")
	fp.push([]byte("more"))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.events(), 1)
}

func TestResizeUpdatesDimsAndSignalsWinch(t *testing.T) {
	m := NewManager(ManagerOptions{})
	id, fp := startFake(t, m, StartRequest{Command: "cat", Cols: 80, Rows: 24})

	require.NoError(t, m.Resize(id, 120, 40))

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, 120, list[0].Cols)
	assert.Equal(t, 40, list[0].Rows)
	assert.Contains(t, fp.signals, SignalWinch)
}

func TestUnknownTerminalReturnsUnknownTerminalError(t *testing.T) {
	m := NewManager(ManagerOptions{})
	_, err := m.Stdout("does-not-exist", StdoutScreen, 0, 0)
	require.Error(t, err)
	ipcErr, ok := ipcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, ipcerr.CodeUnknownTerminal, ipcErr.Code)
}

// collectingSink is a Sink test double recording every event it
// receives, safe for concurrent use by the terminal's reader goroutine.
type collectingSink struct {
	mu  sync.Mutex
	got []OutputEvent
}

func newCollectingSink() *collectingSink { return &collectingSink{} }

func (s *collectingSink) Send(ev OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
}

func (s *collectingSink) events() []OutputEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutputEvent, len(s.got))
	copy(out, s.got)
	return out
}

// waitForCondition polls cond until it returns true or a short deadline
// passes, avoiding a fixed sleep racing the reader goroutine.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}
