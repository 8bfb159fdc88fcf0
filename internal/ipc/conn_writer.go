package ipc

import (
	"net"
	"sync"

	"github.com/terminalcp/terminalcp/internal/logger"
)

// connWriter serializes writes to one connection and enforces the
// per-connection backpressure cap of spec §4.4: once outCh is full,
// the connection is judged too slow and is closed rather than letting
// a stuck subscriber stall the PTY reader that feeds it.
type connWriter struct {
	conn  net.Conn
	outCh chan []byte

	mu     sync.Mutex
	closed bool
}

func newConnWriter(conn net.Conn, queueCap int) *connWriter {
	return &connWriter{
		conn:  conn,
		outCh: make(chan []byte, queueCap),
	}
}

// enqueue schedules line for writing. If the queue is already full,
// the connection is evicted instead of blocking the caller — which may
// be a terminal's reader goroutine broadcasting output to every
// subscriber and must never stall on one of them.
func (c *connWriter) enqueue(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.outCh <- line:
	default:
		logger.Warnf("ipc: connection output queue full, evicting slow subscriber")
		c.closeLocked()
	}
}

// run drains outCh to the underlying connection until closed.
func (c *connWriter) run() {
	for line := range c.outCh {
		if _, err := c.conn.Write(line); err != nil {
			c.close()
			return
		}
	}
}

// close stops accepting new frames and closes the connection. Safe to
// call multiple times and from multiple goroutines.
func (c *connWriter) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *connWriter) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.outCh)
	c.conn.Close()
}
