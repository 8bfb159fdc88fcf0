package terminal

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/terminalcp/terminalcp/internal/ipcerr"
	"github.com/terminalcp/terminalcp/internal/keys"
	"github.com/terminalcp/terminalcp/internal/logger"
	"github.com/terminalcp/terminalcp/internal/recovery"
)

const (
	// enterDelay is how long stdin() pauses after writing a chunk that
	// contains a carriage return or newline, so line-buffered children
	// reliably see it before the next write lands (spec §4.3 stdin, §9).
	enterDelay = 200 * time.Millisecond

	// readChunkSize is the buffer size each terminal's reader goroutine
	// drains the PTY master with.
	readChunkSize = 32 * 1024

	defaultCols = 80
	defaultRows = 24
)

// StartRequest carries the start() action's parameters (spec §4.3).
type StartRequest struct {
	Command string
	Cwd     string
	Env     map[string]string
	Cols    int
	Rows    int
}

// Info is the list() action's per-terminal summary (spec §4.3).
type Info struct {
	ID        string
	Command   string
	Cwd       string
	Running   bool
	Cols      int
	Rows      int
	Pid       int
	CreatedAt time.Time
	ExitCode  *int
	ExitedAt  *time.Time
}

// ManagerOptions configures a Manager. Zero values fall back to
// spec-named defaults.
type ManagerOptions struct {
	RawBufferBytes int
	HistoryLines   int
}

// Manager is the Terminal Manager of spec §3/§4.3: it owns every
// Managed Terminal's lifecycle and is the sole entry point the IPC
// server dispatches start/stop/stdin/stdout/subscribe/list/resize/
// term-size/kill-server into. Grounded on
// wandb-catnip/container/internal/services/claude_process_registry.go's
// registry shape (map + RWMutex + id-keyed records) generalized from a
// Claude-process registry to a general PTY terminal registry.
type Manager struct {
	mu         sync.RWMutex
	terminals  map[string]*Terminal
	order      []string
	rawBufCap  int
	historyCap int
}

// NewManager constructs an empty Manager.
func NewManager(opts ManagerOptions) *Manager {
	rawCap := opts.RawBufferBytes
	if rawCap <= 0 {
		rawCap = 4 * 1024 * 1024
	}
	historyCap := opts.HistoryLines
	if historyCap <= 0 {
		historyCap = 10000
	}
	return &Manager{
		terminals:  make(map[string]*Terminal),
		rawBufCap:  rawCap,
		historyCap: historyCap,
	}
}

// Start spawns a new terminal and registers it. The returned id is
// usable immediately; the terminal moves from starting to running as
// soon as the PTY spawn succeeds, and its reader goroutine is running
// before Start returns (spec §4.3 start).
func (m *Manager) Start(req StartRequest) (string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return "", ipcerr.New(ipcerr.CodeBadRequest, "command must not be empty")
	}

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	cwd := req.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			cwd = "/"
		}
	}

	env := buildEnv(req.Env)

	id := uuid.NewString()
	proc, err := spawnFunc(req.Command, cwd, env, cols, rows)
	if err != nil {
		return "", ipcerr.Wrap(ipcerr.CodeSpawnError, err)
	}

	term := newTerminal(id, req.Command, cwd, env, cols, rows, proc, m.rawBufCap, m.historyCap)
	term.setState(StateRunning)

	m.mu.Lock()
	m.terminals[id] = term
	m.order = append(m.order, id)
	m.mu.Unlock()

	recovery.SafeGoWithCleanup(fmt.Sprintf("terminal-reader-%s", id), func() {
		m.runReader(term)
	}, func() {
		close(term.readerDone)
	})

	return id, nil
}

// buildEnv merges the caller's overrides over the daemon's own
// environment, forcing a sane TERM for the VT100 emulator regardless
// of what the daemon inherited (spec §4.2: xterm-256color semantics).
func buildEnv(overrides map[string]string) []string {
	base := os.Environ()
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	merged["TERM"] = "xterm-256color"
	// Stale COLUMNS/LINES inherited from the daemon's own controlling
	// terminal would confuse a child that queries them instead of
	// ioctl'ing the PTY directly (spec §6).
	delete(merged, "COLUMNS")
	delete(merged, "LINES")
	for k, v := range overrides {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// runReader is the single dedicated reader goroutine for one terminal:
// it drains the PTY master, feeds each chunk into the ring buffer and
// emulator, and broadcasts it to subscribers, until it sees EOF or a
// read error, at which point it reaps the child and marks the terminal
// exited (spec §3's running -> exited transition).
func (m *Manager) runReader(t *Terminal) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.appendOutput(chunk)
		}
		if err != nil {
			break
		}
	}

	exitCode, waitErr := t.proc.Wait()
	if waitErr != nil {
		logger.Warnf("terminal %s: wait error: %v", t.ID, waitErr)
	}
	t.markExited(exitCode)
	t.broadcast(OutputEvent{Terminal: t.ID, Kind: "exit"})
}

// lookup returns the terminal for id, or an UnknownTerminal error once
// it has been removed by stop/kill-server (spec §7).
func (m *Manager) lookup(id string) (*Terminal, error) {
	m.mu.RLock()
	t, ok := m.terminals[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ipcerr.UnknownTerminal(id)
	}
	return t, nil
}

// Stdin writes data to id's PTY master, serialized against any other
// concurrent stdin call on the same terminal via input_lock (spec
// §4.3/§5). If isKey is true, data is first translated via the key
// notation translator.
func (m *Manager) Stdin(id string, data string, isKey bool) error {
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !t.isRunning() {
		return ipcerr.New(ipcerr.CodeExited, "terminal %s has exited", id)
	}

	payload := []byte(data)
	if isKey {
		translated, err := keys.Translate(data)
		if err != nil {
			return ipcerr.Wrap(ipcerr.CodeInvalidKey, err)
		}
		payload = translated
	}

	t.inputMu.Lock()
	defer t.inputMu.Unlock()

	if err := writeAll(t.proc, payload); err != nil {
		return ipcerr.Wrap(ipcerr.CodeWriteError, err)
	}

	if bytes.ContainsRune(payload, '\r') || bytes.ContainsRune(payload, '\n') {
		time.Sleep(enterDelay)
	}
	return nil
}

func writeAll(w interface{ Write([]byte) (int, error) }, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// StdoutMode selects which slice of a terminal's captured output
// stdout() returns (spec §4.3 stdout).
type StdoutMode string

const (
	StdoutScreen StdoutMode = "screen"
	StdoutStream StdoutMode = "stream"
)

// Stdout returns id's current rendered screen, or a window of its raw
// transcript, decoded as UTF-8 with invalid sequences replaced (spec
// §4.3: "always returns valid UTF-8, never partial multi-byte
// sequences").
func (m *Manager) Stdout(id string, mode StdoutMode, lines, byteCount int) (string, error) {
	t, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	switch mode {
	case StdoutScreen, "":
		return t.emu.Snapshot(), nil
	case StdoutStream:
		var raw []byte
		if byteCount > 0 {
			raw = t.raw.Tail(byteCount)
		} else {
			raw = t.raw.Bytes()
		}
		text := string(bytes.ToValidUTF8(raw, []byte("�")))
		if lines > 0 {
			parts := strings.Split(text, "\n")
			if lines < len(parts) {
				parts = parts[len(parts)-lines:]
			}
			text = strings.Join(parts, "\n")
		}
		return text, nil
	default:
		return "", ipcerr.New(ipcerr.CodeBadRequest, "unknown stdout mode %q", mode)
	}
}

// Subscribe registers sink to receive id's future output events (spec
// §4.3 subscribe).
func (m *Manager) Subscribe(id, connID string, sink Sink) error {
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	t.addSubscriber(connID, sink)
	return nil
}

// Unsubscribe removes connID's subscription to id, if any (spec §4.3
// unsubscribe).
func (m *Manager) Unsubscribe(id, connID string) error {
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	t.removeSubscriber(connID)
	return nil
}

// UnsubscribeConn drops connID from every terminal's subscriber set,
// for use when a connection closes (spec §5: a disconnect must not
// leak a subscription forever).
func (m *Manager) UnsubscribeConn(connID string) {
	m.mu.RLock()
	terms := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		terms = append(terms, t)
	}
	m.mu.RUnlock()

	for _, t := range terms {
		t.removeSubscriber(connID)
	}
}

// List returns a summary of every terminal still in the registry,
// oldest first (spec §4.3 list).
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		t, ok := m.terminals[id]
		if !ok {
			continue
		}
		cols, rows := t.dims()
		exitCode, exitedAt := t.exitInfo()
		info := Info{
			ID:        t.ID,
			Command:   t.Command,
			Cwd:       t.Cwd,
			Running:   t.isRunning(),
			Cols:      cols,
			Rows:      rows,
			Pid:       t.proc.Pid(),
			CreatedAt: t.CreatedAt,
			ExitCode:  exitCode,
		}
		if !exitedAt.IsZero() {
			at := exitedAt
			info.ExitedAt = &at
		}
		out = append(out, info)
	}
	return out
}

// Resize changes id's PTY window size and notifies the child with
// SIGWINCH, and resizes its emulator to match (spec §4.3 resize).
func (m *Manager) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ipcerr.New(ipcerr.CodeBadRequest, "cols and rows must be positive")
	}
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !t.isRunning() {
		return ipcerr.New(ipcerr.CodeExited, "terminal %s has exited", id)
	}

	if err := t.proc.Resize(cols, rows); err != nil {
		return ipcerr.Wrap(ipcerr.CodeInternalError, err)
	}
	_ = t.proc.Signal(SignalWinch)
	t.setDims(cols, rows)
	t.emu.Resize(cols, rows)
	return nil
}

// Stop terminates a terminal and removes it from the registry, moving
// it to the reaped state (spec §3/§4.3 stop). Stopping an already-exited
// terminal is not an error; an id that is not registered (never started,
// or already stopped) fails with UnknownTerminal, so a second Stop of the
// same id fails.
func (m *Manager) Stop(id string, force bool) error {
	t, err := m.lookup(id)
	if err != nil {
		return err
	}

	if t.isRunning() {
		sig := SignalTerm
		if force {
			sig = SignalKill
		}
		_ = t.proc.Signal(sig)

		select {
		case <-t.readerDone:
		case <-time.After(3 * time.Second):
			_ = t.proc.Signal(SignalKill)
			<-t.readerDone
		}
	}

	_ = t.proc.Close()
	t.setState(StateReaped)

	m.mu.Lock()
	delete(m.terminals, id)
	m.mu.Unlock()

	return nil
}

// TermSize reports the daemon process's own controlling terminal
// dimensions, for the term-size() action (spec §4.3). The daemon is
// normally detached with its stdio pointed at /dev/null (see Client's
// auto-start), so os.Stdout is rarely a tty in practice; when it isn't,
// TermSize falls back to sensible defaults rather than erroring.
func (m *Manager) TermSize() (cols, rows int, err error) {
	cols, rows, err = term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return defaultCols, defaultRows, nil
	}
	return cols, rows, nil
}

// Shutdown force-stops every managed terminal, for kill-server (spec
// §4.3): no terminal should survive as an orphan once the daemon
// itself is going away.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Stop(id, true); err != nil {
			logger.Warnf("shutdown: stopping terminal %s: %v", id, err)
		}
	}
}
