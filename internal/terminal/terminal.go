// Package terminal implements the Managed Terminal and Terminal Manager
// of spec §3/§4.3: the registry and lifecycle engine that spawns PTYs,
// emulates their screens, buffers their output, and serves the
// read/write/subscribe operations the IPC layer dispatches into.
//
// It is grounded on wandb-catnip/container/internal/handlers/pty.go's
// Session type and PTYHandler (PTY spawn via creack/pty, a dedicated
// reader goroutine per PTY, per-session locking, subscriber fan-out),
// generalized from catnip's websocket-connection model to the
// connection-agnostic Sink this package defines, and restricted to the
// lifecycle spec §3's state table actually calls for (no idle reaping,
// no PTY recreation on exit — see SPEC_FULL.md).
package terminal

import (
	"sync"
	"time"

	"github.com/terminalcp/terminalcp/internal/emulator"
	"github.com/terminalcp/terminalcp/internal/ringbuffer"
)

// State is one of the four lifecycle states spec §4.3's state table
// names.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateReaped   State = "reaped"
)

// OutputEvent is what a subscriber receives for each drained PTY chunk,
// and for the exit notice when a terminal's reader observes EOF (spec
// §7: "an event is emitted before the id becomes unusable for I/O").
type OutputEvent struct {
	Terminal string
	Kind     string // "output" or "exit"
	Data     []byte
}

// Sink receives OutputEvents for a subscribed terminal. The IPC server
// implements Sink per connection, serializing delivery against that
// connection's own response writes.
type Sink interface {
	Send(OutputEvent)
}

// Terminal is one spawned interactive process: its PTY, raw byte
// transcript, rendered screen, and subscriber set (spec §3).
type Terminal struct {
	ID      string
	Command string
	Cwd     string
	Env     []string

	CreatedAt time.Time

	raw *ringbuffer.Buffer
	emu *emulator.Emulator

	proc processHandle

	inputMu sync.Mutex // input_lock: serializes PTY writes

	stateMu  sync.Mutex // state_lock: guards state/cols/rows/exit fields
	state    State
	cols     int
	rows     int
	exitedAt time.Time
	exitCode *int

	subMu       sync.RWMutex
	subscribers map[string]Sink // connection id -> sink

	readerDone chan struct{}
}

// processHandle is the minimum surface the Terminal needs from a
// spawned child + its PTY master; process.go implements it
// against os/exec and github.com/creack/pty, kept behind an interface
// so manager_test.go can drive the state machine without a real shell.
type processHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Signal(sig signalKind) error
	Wait() (exitCode int, err error)
	Pid() int
	Close() error
}

type signalKind int

const (
	SignalTerm signalKind = iota
	SignalKill
	SignalWinch
)

func newTerminal(id, command, cwd string, env []string, cols, rows int, proc processHandle, rawBufferCap, historyLines int) *Terminal {
	return &Terminal{
		ID:          id,
		Command:     command,
		Cwd:         cwd,
		Env:         env,
		CreatedAt:   time.Now(),
		raw:         ringbuffer.New(rawBufferCap),
		emu:         emulator.NewWithHistory(cols, rows, historyLines),
		proc:        proc,
		state:       StateStarting,
		cols:        cols,
		rows:        rows,
		subscribers: make(map[string]Sink),
		readerDone:  make(chan struct{}),
	}
}

func (t *Terminal) setState(s State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

func (t *Terminal) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *Terminal) isRunning() bool {
	return t.State() == StateRunning
}

func (t *Terminal) markExited(exitCode int) {
	t.stateMu.Lock()
	if t.state == StateRunning || t.state == StateStarting {
		t.state = StateExited
		t.exitedAt = time.Now()
		code := exitCode
		t.exitCode = &code
	}
	t.stateMu.Unlock()
}

func (t *Terminal) dims() (cols, rows int) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.cols, t.rows
}

func (t *Terminal) setDims(cols, rows int) {
	t.stateMu.Lock()
	t.cols = cols
	t.rows = rows
	t.stateMu.Unlock()
}

func (t *Terminal) exitInfo() (code *int, at time.Time) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.exitCode, t.exitedAt
}

// addSubscriber registers a Sink under connID.
func (t *Terminal) addSubscriber(connID string, sink Sink) {
	t.subMu.Lock()
	t.subscribers[connID] = sink
	t.subMu.Unlock()
}

// removeSubscriber drops connID's subscription, if any.
func (t *Terminal) removeSubscriber(connID string) {
	t.subMu.Lock()
	delete(t.subscribers, connID)
	t.subMu.Unlock()
}

// broadcast fans an event out to every current subscriber, in a
// snapshot of the subscriber set taken under subMu so a concurrent
// subscribe/unsubscribe can't race the iteration.
func (t *Terminal) broadcast(ev OutputEvent) {
	t.subMu.RLock()
	sinks := make([]Sink, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		sinks = append(sinks, s)
	}
	t.subMu.RUnlock()

	for _, s := range sinks {
		s.Send(ev)
	}
}

// appendOutput records a drained PTY chunk into the raw transcript and
// emulator atomically under state_lock (spec §3: "bytes it reads are
// appended to raw_buffer and fed to screen atomically"), then fans the
// chunk out to subscribers. Must be called only by this terminal's
// single reader goroutine.
func (t *Terminal) appendOutput(data []byte) {
	t.stateMu.Lock()
	t.raw.Write(data)
	t.emu.Feed(data)
	t.stateMu.Unlock()

	t.broadcast(OutputEvent{Terminal: t.ID, Kind: "output", Data: data})
}
