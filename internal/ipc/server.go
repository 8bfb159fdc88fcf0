package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/terminalcp/terminalcp/internal/config"
	"github.com/terminalcp/terminalcp/internal/ipcerr"
	"github.com/terminalcp/terminalcp/internal/logger"
	"github.com/terminalcp/terminalcp/internal/recovery"
	"github.com/terminalcp/terminalcp/internal/terminal"
)

// ErrAlreadyRunning is returned by Listen when a live daemon already
// holds the socket (spec §4.4 single-instance probe).
var ErrAlreadyRunning = errors.New("ipc: a daemon is already listening on this socket")

// defaultOutputQueue is how many unsent frames (responses or events) a
// connection's writer will queue before it is judged too slow and
// evicted (spec §4.4 backpressure).
const defaultOutputQueue = 1024

// ServerOptions configures a Server. Zero values fall back to
// spec-named defaults.
type ServerOptions struct {
	OutputQueueCap int
}

// Server is the IPC Server of spec §4.4: it owns the socket listener,
// accepts connections, frames requests/responses/events as
// line-delimited JSON, and dispatches every request into a
// terminal.Manager. Grounded on
// wandb-catnip/container/internal/handlers/pty.go's handlePTYConnection
// (a per-connection read loop plus a per-connection write path that
// isolates one subscriber's failure from the rest), adapted from
// catnip's WebSocket frames to raw Unix-socket JSON lines.
type Server struct {
	mgr            *terminal.Manager
	socketPath     string
	outputQueueCap int

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*connWriter

	shutdownOnce sync.Once
	closed       chan struct{}
}

// NewServer constructs a Server bound to mgr, not yet listening.
func NewServer(mgr *terminal.Manager, socketPath string, opts ServerOptions) *Server {
	queueCap := opts.OutputQueueCap
	if queueCap <= 0 {
		queueCap = defaultOutputQueue
	}
	return &Server{
		mgr:            mgr,
		socketPath:     socketPath,
		outputQueueCap: queueCap,
		conns:          make(map[string]*connWriter),
		closed:         make(chan struct{}),
	}
}

// Listen binds the socket, performing the single-instance probe-and-
// rebind dance of spec §4.4: if the path is already bound, connect to
// it and issue a benign `list` request; a live daemon answers and we
// report ErrAlreadyRunning, a stale socket fails to connect and we
// unlink + rebind.
func (s *Server) Listen() error {
	ln, err := net.Listen("unix", s.socketPath)
	if err == nil {
		if chErr := os.Chmod(s.socketPath, config.SocketMode()); chErr != nil {
			ln.Close()
			return chErr
		}
		s.listener = ln
		return nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return err
	}

	if probeAlive(s.socketPath) {
		return ErrAlreadyRunning
	}

	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	ln2, err2 := net.Listen("unix", s.socketPath)
	if err2 != nil {
		return err2
	}
	if chErr := os.Chmod(s.socketPath, config.SocketMode()); chErr != nil {
		ln2.Close()
		return chErr
	}
	s.listener = ln2
	return nil
}

// probeAlive connects to an existing socket and issues a benign list()
// request, reporting whether a live daemon answered.
func probeAlive(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(time.Second))
	line, err := marshalLine(request{ID: "probe", Action: "list"})
	if err != nil {
		return false
	}
	if _, err := conn.Write(line); err != nil {
		return false
	}

	reader := bufio.NewReader(conn)
	resp, err := reader.ReadBytes('\n')
	if err != nil {
		return false
	}
	var parsed response
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return false
	}
	return parsed.Type == "response"
}

// Serve accepts connections until the listener closes, handling each
// on its own goroutine. It blocks until Shutdown closes the listener.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return err
			}
		}
		recovery.SafeGo("ipc-conn", func() {
			s.handleConn(conn)
		})
	}
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	cw := newConnWriter(conn, s.outputQueueCap)

	s.mu.Lock()
	s.conns[connID] = cw
	s.mu.Unlock()

	recovery.SafeGo("ipc-conn-writer", cw.run)

	defer func() {
		cw.close()
		s.mgr.UnsubscribeConn(connID)
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(connID, cw, line)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleLine(connID string, cw *connWriter, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warnf("ipc: malformed request on connection %s: %v", connID, err)
		cw.close()
		return
	}

	resp := s.dispatch(connID, cw, req)
	encoded, err := marshalLine(resp)
	if err != nil {
		logger.Errorf("ipc: marshaling response for %s: %v", req.ID, err)
		return
	}
	cw.enqueue(encoded)
}

func (s *Server) dispatch(connID string, cw *connWriter, req request) response {
	switch req.Action {
	case "start":
		id, err := s.mgr.Start(terminal.StartRequest{
			Command: req.Command,
			Cwd:     req.Cwd,
			Env:     req.Env,
			Cols:    req.Cols,
			Rows:    req.Rows,
		})
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, startResult{Terminal: id})

	case "stdin":
		if err := s.mgr.Stdin(req.Terminal, req.Data, req.IsKey); err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, nil)

	case "stdout":
		mode := terminal.StdoutMode(req.Mode)
		if mode == "" {
			mode = terminal.StdoutScreen
		}
		out, err := s.mgr.Stdout(req.Terminal, mode, req.Lines, req.Bytes)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, out)

	case "subscribe":
		sink := &connSink{cw: cw}
		if err := s.mgr.Subscribe(req.Terminal, connID, sink); err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, nil)

	case "unsubscribe":
		if err := s.mgr.Unsubscribe(req.Terminal, connID); err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, nil)

	case "list":
		entries := toListEntries(s.mgr.List())
		return newResponse(req.ID, entries)

	case "resize":
		if err := s.mgr.Resize(req.Terminal, req.Cols, req.Rows); err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, nil)

	case "stop":
		if err := s.mgr.Stop(req.Terminal, req.Force); err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, nil)

	case "term-size":
		cols, rows, err := s.mgr.TermSize()
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return newResponse(req.ID, sizeResult{Cols: cols, Rows: rows})

	case "kill-server":
		resp := newResponse(req.ID, nil)
		recovery.SafeGo("ipc-kill-server", s.Shutdown)
		return resp

	default:
		return newErrorResponse(req.ID, string(ipcerr.CodeUnknownAction), "unknown action: "+req.Action)
	}
}

func toListEntries(infos []terminal.Info) []listEntry {
	out := make([]listEntry, 0, len(infos))
	for _, info := range infos {
		entry := listEntry{
			ID:        info.ID,
			Command:   info.Command,
			Cwd:       info.Cwd,
			Running:   info.Running,
			Cols:      info.Cols,
			Rows:      info.Rows,
			Pid:       info.Pid,
			CreatedAt: info.CreatedAt.Format(time.RFC3339),
			ExitCode:  info.ExitCode,
		}
		if info.ExitedAt != nil {
			entry.ExitedAt = info.ExitedAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}

func errorResponse(id string, err error) response {
	if ipcErr, ok := ipcerr.As(err); ok {
		return newErrorResponse(id, string(ipcErr.Code), ipcErr.Message)
	}
	return newErrorResponse(id, string(ipcerr.CodeInternalError), err.Error())
}

// Shutdown performs the graceful kill-server sequence of spec §4.4:
// stop every managed terminal, close every connection, unlink the
// socket. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			s.listener.Close()
		}

		s.mgr.Shutdown()

		s.mu.Lock()
		conns := make([]*connWriter, 0, len(s.conns))
		for _, cw := range s.conns {
			conns = append(conns, cw)
		}
		s.mu.Unlock()
		for _, cw := range conns {
			cw.close()
		}

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("ipc: removing socket %s: %v", s.socketPath, err)
		}
	})
}

// connSink adapts a connWriter into a terminal.Sink, JSON-encoding
// each OutputEvent as an event frame before enqueueing it.
type connSink struct {
	cw *connWriter
}

func (c *connSink) Send(ev terminal.OutputEvent) {
	line, err := marshalLine(newEvent(ev.Terminal, ev.Kind, ev.Data))
	if err != nil {
		return
	}
	c.cw.enqueue(line)
}
