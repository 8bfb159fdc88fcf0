package recovery

import (
	"runtime/debug"

	"github.com/terminalcp/terminalcp/internal/logger"
)

// SafeGo runs a function in a goroutine with automatic panic recovery.
// This prevents any single goroutine panic from crashing the daemon:
// a PTY reader or connection writer panicking must not take down
// terminals it has nothing to do with.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup runs a function in a goroutine with panic recovery and
// a cleanup callback that always runs, panic or not.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
