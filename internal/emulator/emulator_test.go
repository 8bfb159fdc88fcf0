package emulator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotTrimsTrailingBlankLines(t *testing.T) {
	e := New(20, 5)
	e.Feed([]byte("hello\r\n"))

	snap := e.Snapshot()
	lines := strings.Split(snap, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "hello", strings.TrimRight(lines[0], " "))
	assert.NotEmpty(t, strings.TrimSpace(lines[len(lines)-1]), "snapshot should not end in a blank line")
}

func TestSnapshotContainsWrittenText(t *testing.T) {
	e := New(40, 10)
	e.Feed([]byte("echo hello\r\n"))
	e.Feed([]byte("hello\r\n"))

	snap := e.Snapshot()
	assert.Contains(t, snap, "echo hello")
	assert.Contains(t, snap, "hello")
}

func TestFeedToleratesPartialEscapeSequences(t *testing.T) {
	e := New(20, 5)
	// Split a color escape sequence across two Feed calls.
	e.Feed([]byte("\x1b[3"))
	e.Feed([]byte("1mred\x1b[0m\r\n"))

	snap := e.Snapshot()
	assert.Contains(t, snap, "red")
}

func TestResizePreservesSize(t *testing.T) {
	e := New(80, 24)
	e.Resize(120, 40)

	cols, rows := e.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)
}

func TestResizeIgnoresNonPositiveDimensions(t *testing.T) {
	e := New(80, 24)
	e.Resize(0, 0)

	cols, rows := e.Size()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
}
