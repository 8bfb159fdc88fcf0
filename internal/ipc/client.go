package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terminalcp/terminalcp/internal/ipcerr"
)

// defaultTimeout is the per-request timeout of spec §4.5.
const defaultTimeout = 5 * time.Second

// autoStartTimeout bounds how long the client waits for a freshly
// spawned daemon's socket to become reachable (spec §4.5).
const autoStartTimeout = 5 * time.Second

// EventHandler receives output/exit events for subscribed terminals.
type EventHandler func(terminal, kind string, data []byte)

// Client is the IPC Client Library of spec §4.5: it connects to the
// daemon socket, auto-starting a detached daemon process if nothing is
// listening, correlates requests/responses by monotonically increasing
// id, and routes events to a caller-supplied handler. One goroutine
// owns the connection's reads; each request is written directly to the
// connection under connMu, so concurrent calls never interleave their
// frames. Adapted from wandb-catnip/container/internal/handlers/pty.go's
// WebSocket connection handling to a plain Unix socket and to this
// protocol's request/response correlation instead of catnip's
// fire-and-forget control messages.
type Client struct {
	socketPath string
	daemonArgs []string

	onEvent EventHandler

	conn   net.Conn
	connMu sync.Mutex

	nextID uint64

	pendingMu sync.Mutex
	pending   map[string]chan response

	closed    chan struct{}
	closeOnce sync.Once
}

// ClientOptions configures Dial.
type ClientOptions struct {
	// DaemonArgs, if set, is the argv used to auto-start a detached
	// daemon when nothing answers the socket (spec §4.5). The daemon
	// binary path is DaemonArgs[0].
	DaemonArgs []string
	OnEvent    EventHandler
}

// Dial connects to the daemon at socketPath, auto-starting it via
// opts.DaemonArgs if the initial connection fails.
func Dial(socketPath string, opts ClientOptions) (*Client, error) {
	c := &Client{
		socketPath: socketPath,
		daemonArgs: opts.DaemonArgs,
		onEvent:    opts.OnEvent,
		pending:    make(map[string]chan response),
		closed:     make(chan struct{}),
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		if len(opts.DaemonArgs) == 0 {
			return nil, fmt.Errorf("ipc: connect %s: %w", socketPath, err)
		}
		conn, err = c.autoStart(socketPath)
		if err != nil {
			return nil, err
		}
	}

	c.conn = conn
	go c.readLoop()
	return c, nil
}

// autoStart spawns a detached daemon process and polls for the socket
// to become reachable (spec §4.5 auto-start).
func (c *Client) autoStart(socketPath string) (net.Conn, error) {
	cmd := exec.Command(c.daemonArgs[0], c.daemonArgs[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ipc: auto-start daemon: %w", err)
	}
	// The daemon detaches into its own session; we don't reap it here,
	// only the process that started it first would ever wait on it and
	// that process is about to exit.
	go func() { _ = cmd.Process.Release() }()

	deadline := time.Now().Add(autoStartTimeout)
	backoff := 25 * time.Millisecond
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", socketPath, time.Second)
		if err == nil {
			return conn, nil
		}
		time.Sleep(backoff)
		if backoff < 250*time.Millisecond {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("ipc: daemon did not become reachable within %s", autoStartTimeout)
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			c.failAllPending(ipcerr.New(ipcerr.CodeDisconnected, "connection closed: %v", err))
			return
		}
	}
}

func (c *Client) handleLine(line []byte) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &peek); err != nil {
		return
	}

	switch peek.Type {
	case "response":
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return
		}
		c.resolve(resp)
	case "event":
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return
		}
		if c.onEvent != nil {
			c.onEvent(ev.Terminal, ev.Kind, []byte(ev.Data))
		}
	}
}

func (c *Client) resolve(resp response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) failAllPending(err *ipcerr.Error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.pendingMu.Unlock()

	for id, ch := range pending {
		ch <- newErrorResponse(id, string(err.Code), err.Message)
	}
}

// call sends req and waits for its correlated response, a disconnect,
// or the default timeout (spec §4.5).
func (c *Client) call(ctx context.Context, req request) (response, error) {
	req.ID = fmt.Sprintf("%d", atomic.AddUint64(&c.nextID, 1))

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	line, err := marshalLine(req)
	if err != nil {
		return response{}, err
	}

	c.connMu.Lock()
	_, writeErr := c.conn.Write(line)
	c.connMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return response{}, ipcerr.Wrap(ipcerr.CodeDisconnected, writeErr)
	}

	timeout := time.NewTimer(defaultTimeout)
	defer timeout.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timeout.C:
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return response{}, ipcerr.New(ipcerr.CodeTimeout, "request %s timed out after %s", req.Action, defaultTimeout)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return response{}, ctx.Err()
	case <-c.closed:
		return response{}, ipcerr.New(ipcerr.CodeDisconnected, "client closed")
	}
}

func asError(resp response) error {
	if resp.OK {
		return nil
	}
	if resp.Error == nil {
		return ipcerr.New(ipcerr.CodeInternalError, "request failed with no error detail")
	}
	return ipcerr.New(ipcerr.Code(resp.Error.Code), "%s", resp.Error.Message)
}

// Start issues a start() request and returns the new terminal's id.
func (c *Client) Start(ctx context.Context, command, cwd string, env map[string]string, cols, rows int) (string, error) {
	resp, err := c.call(ctx, request{Action: "start", Command: command, Cwd: cwd, Env: env, Cols: cols, Rows: rows})
	if err != nil {
		return "", err
	}
	if err := asError(resp); err != nil {
		return "", err
	}
	var result startResult
	if b, err := json.Marshal(resp.Result); err == nil {
		_ = json.Unmarshal(b, &result)
	}
	return result.Terminal, nil
}

// Stdin issues a stdin() request.
func (c *Client) Stdin(ctx context.Context, terminalID, data string, isKey bool) error {
	resp, err := c.call(ctx, request{Action: "stdin", Terminal: terminalID, Data: data, IsKey: isKey})
	if err != nil {
		return err
	}
	return asError(resp)
}

// Stdout issues a stdout() request and returns the decoded result
// string.
func (c *Client) Stdout(ctx context.Context, terminalID, mode string, lines, bytesN int) (string, error) {
	resp, err := c.call(ctx, request{Action: "stdout", Terminal: terminalID, Mode: mode, Lines: lines, Bytes: bytesN})
	if err != nil {
		return "", err
	}
	if err := asError(resp); err != nil {
		return "", err
	}
	text, _ := resp.Result.(string)
	return text, nil
}

// Subscribe issues a subscribe() request; events for terminalID are
// delivered to the EventHandler passed to Dial.
func (c *Client) Subscribe(ctx context.Context, terminalID string) error {
	resp, err := c.call(ctx, request{Action: "subscribe", Terminal: terminalID})
	if err != nil {
		return err
	}
	return asError(resp)
}

// Unsubscribe issues an unsubscribe() request.
func (c *Client) Unsubscribe(ctx context.Context, terminalID string) error {
	resp, err := c.call(ctx, request{Action: "unsubscribe", Terminal: terminalID})
	if err != nil {
		return err
	}
	return asError(resp)
}

// Resize issues a resize() request.
func (c *Client) Resize(ctx context.Context, terminalID string, cols, rows int) error {
	resp, err := c.call(ctx, request{Action: "resize", Terminal: terminalID, Cols: cols, Rows: rows})
	if err != nil {
		return err
	}
	return asError(resp)
}

// Stop issues a stop() request.
func (c *Client) Stop(ctx context.Context, terminalID string, force bool) error {
	resp, err := c.call(ctx, request{Action: "stop", Terminal: terminalID, Force: force})
	if err != nil {
		return err
	}
	return asError(resp)
}

// List issues a list() request.
func (c *Client) List(ctx context.Context) ([]listEntry, error) {
	resp, err := c.call(ctx, request{Action: "list"})
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	var entries []listEntry
	if b, err := json.Marshal(resp.Result); err == nil {
		_ = json.Unmarshal(b, &entries)
	}
	return entries, nil
}

// TermSize issues a term-size() request.
func (c *Client) TermSize(ctx context.Context) (cols, rows int, err error) {
	resp, callErr := c.call(ctx, request{Action: "term-size"})
	if callErr != nil {
		return 0, 0, callErr
	}
	if err := asError(resp); err != nil {
		return 0, 0, err
	}
	var result sizeResult
	if b, mErr := json.Marshal(resp.Result); mErr == nil {
		_ = json.Unmarshal(b, &result)
	}
	return result.Cols, result.Rows, nil
}

// KillServer issues a kill-server() request.
func (c *Client) KillServer(ctx context.Context) error {
	resp, err := c.call(ctx, request{Action: "kill-server"})
	if err != nil {
		return err
	}
	return asError(resp)
}

// Close shuts down the client connection, failing any in-flight
// requests with Disconnected (spec §4.5).
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}
