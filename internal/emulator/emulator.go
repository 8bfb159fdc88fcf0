// Package emulator wraps a VT100/xterm-256color terminal emulator core
// around PTY bytes, producing the rendered screen grid + scrollback
// history spec §3/§4.2 calls for. It is grounded on
// wandb-catnip/container/internal/tui/terminal_emulator.go, which wraps
// the same underlying library (github.com/hinshun/vt10x) for the same
// purpose: turning raw PTY bytes into a renderable screen.
package emulator

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/hinshun/vt10x"
)

// Attribute mode bits, matching the ones vt10x sets on a Glyph's Mode
// field (see wandb-catnip's terminal_emulator.go, which names the same
// constants for the same reason: vt10x doesn't export them itself).
const (
	attrBold      = 1 << 0
	attrUnderline = 1 << 1
	attrBlink     = 1 << 2
	attrReverse   = 1 << 3
	attrItalic    = 1 << 4
)

// defaultHistoryLines is spec §4.2's default scrollback depth.
const defaultHistoryLines = 10000

// Emulator adapts a vt10x.Terminal into the feed/snapshot/resize
// contract spec §4.2 specifies. A single Emulator is owned by exactly
// one Terminal and is fed by that terminal's reader. Every method holds
// the Emulator's own mutex, so a Snapshot racing a Feed sees the screen
// either before or after that Feed, never in between.
type Emulator struct {
	mu       sync.Mutex
	terminal vt10x.Terminal
	cols     int
	rows     int

	history    []string
	maxHistory int
	lastTop    string
}

// New creates an Emulator sized to cols x rows with the default
// scrollback depth.
func New(cols, rows int) *Emulator {
	return NewWithHistory(cols, rows, defaultHistoryLines)
}

// NewWithHistory creates an Emulator with an explicit scrollback depth,
// primarily for tests that want a small bound.
func NewWithHistory(cols, rows, maxHistory int) *Emulator {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if maxHistory <= 0 {
		maxHistory = defaultHistoryLines
	}
	return &Emulator{
		terminal:   vt10x.New(vt10x.WithSize(cols, rows)),
		cols:       cols,
		rows:       rows,
		maxHistory: maxHistory,
	}
}

// Feed advances the emulator state with newly read PTY bytes. vt10x
// buffers incomplete escape sequences internally across Write calls, so
// Feed is safe to call with arbitrary chunk boundaries (spec §4.2:
// "tolerate partial escape sequences across calls").
func (e *Emulator) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	prevTop := e.rowTextLocked(0)
	_, _ = e.terminal.Write(data)
	newTop := e.rowTextLocked(0)

	// A changed top row with non-blank prior content is our signal that
	// the visible window scrolled; retain what scrolled off. This is an
	// approximation (vt10x has no scroll-event hook to key off of
	// directly) good enough for the scrollback buffer's stated purpose:
	// a best-effort append-only history, not a source of truth for any
	// wire operation (stdout always reads raw_buffer/screen, never
	// this).
	if newTop != prevTop && strings.TrimSpace(prevTop) != "" {
		e.appendHistoryLocked(prevTop)
	}
	e.lastTop = newTop
}

func (e *Emulator) appendHistoryLocked(line string) {
	e.history = append(e.history, line)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
}

// Resize adjusts the emulator's screen dimensions, preserving
// scrollback already collected. Issuing SIGWINCH to the child is the
// Manager's responsibility, not the adapter's (spec §4.2).
func (e *Emulator) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cols = cols
	e.rows = rows
	e.terminal.Resize(cols, rows)
}

// Size returns the emulator's current column/row dimensions.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// History returns a copy of the retained scrollback lines, oldest
// first.
func (e *Emulator) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.history))
	copy(out, e.history)
	return out
}

// Snapshot renders the currently visible screen as newline-joined text,
// trailing blank lines trimmed (spec §4.2). It never corrupts the grid
// and never observes a torn update because Feed and Snapshot both hold
// the Emulator's internal mutex.
func (e *Emulator) Snapshot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderLocked()
}

func (e *Emulator) rowTextLocked(row int) string {
	var buf strings.Builder
	for col := 0; col < e.cols; col++ {
		cell := e.terminal.Cell(col, row)
		if cell.Char == 0 {
			buf.WriteRune(' ')
		} else {
			buf.WriteRune(cell.Char)
		}
	}
	return buf.String()
}

func (e *Emulator) renderLocked() string {
	var buf bytes.Buffer

	for row := 0; row < e.rows; row++ {
		if row > 0 {
			buf.WriteString("\n")
		}
		for col := 0; col < e.cols; col++ {
			cell := e.terminal.Cell(col, row)
			if cell.Char == 0 {
				buf.WriteRune(' ')
			} else {
				buf.WriteRune(cell.Char)
			}
		}
	}

	output := buf.String()
	lines := strings.Split(output, "\n")

	lastNonEmpty := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimRight(lines[i], " \t") != "" {
			lastNonEmpty = i
			break
		}
	}
	if lastNonEmpty < 0 {
		return ""
	}
	return strings.Join(lines[:lastNonEmpty+1], "\n")
}

// SnapshotANSI renders the screen with ANSI color/attribute codes
// reapplied, for controllers that want the styled view rather than bare
// text. Grounded on terminal_emulator.go's Render(), trimmed of the
// reconnection/cursor-positioning concerns that belong to an attach
// front-end rather than the core adapter.
func (e *Emulator) SnapshotANSI() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf bytes.Buffer
	var lastFG, lastBG vt10x.Color
	var lastMode int16
	resetNeeded := false

	for row := 0; row < e.rows; row++ {
		if row > 0 {
			buf.WriteString("\n")
		}
		for col := 0; col < e.cols; col++ {
			cell := e.terminal.Cell(col, row)

			if cell.FG != lastFG || cell.BG != lastBG || cell.Mode != lastMode {
				if resetNeeded {
					buf.WriteString("\x1b[0m")
				}
				if cell.Mode&attrBold != 0 {
					buf.WriteString("\x1b[1m")
				}
				if cell.Mode&attrUnderline != 0 {
					buf.WriteString("\x1b[4m")
				}
				if cell.Mode&attrReverse != 0 {
					buf.WriteString("\x1b[7m")
				}
				if cell.Mode&attrItalic != 0 {
					buf.WriteString("\x1b[3m")
				}
				if cell.Mode&attrBlink != 0 {
					buf.WriteString("\x1b[5m")
				}
				writeColor(&buf, cell.FG, vt10x.DefaultFG, 30, 90, 38)
				writeColor(&buf, cell.BG, vt10x.DefaultBG, 40, 100, 48)

				lastFG, lastBG, lastMode = cell.FG, cell.BG, cell.Mode
				resetNeeded = true
			}

			if cell.Char == 0 {
				buf.WriteRune(' ')
			} else {
				buf.WriteRune(cell.Char)
			}
		}
	}
	if resetNeeded {
		buf.WriteString("\x1b[0m")
	}
	return buf.String()
}

func writeColor(buf *bytes.Buffer, c, deflt vt10x.Color, base, brightBase, extendedBase int) {
	if c == deflt {
		return
	}
	switch {
	case c < 8:
		fmt.Fprintf(buf, "\x1b[%dm", base+int(c))
	case c < 16:
		fmt.Fprintf(buf, "\x1b[%dm", brightBase+int(c)-8)
	case c < 256:
		fmt.Fprintf(buf, "\x1b[%d;5;%dm", extendedBase, int(c))
	default:
		r := (int(c) >> 16) & 0xFF
		g := (int(c) >> 8) & 0xFF
		b := int(c) & 0xFF
		fmt.Fprintf(buf, "\x1b[%d;2;%d;%d;%dm", extendedBase, r, g, b)
	}
}
