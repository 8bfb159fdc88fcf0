package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// ptyProcess is the real processHandle, spawning a POSIX shell under a
// PTY master via github.com/creack/pty. Grounded on
// wandb-catnip/container/internal/handlers/pty.go's session spawn path
// (pty.StartWithSize + a *exec.Cmd), adapted to this package's narrower
// processHandle surface.
type ptyProcess struct {
	cmd    *exec.Cmd
	master *os.File
}

// spawnFunc is overridden in tests to substitute a fakeProcess for a
// real PTY-backed child.
var spawnFunc = spawn

// spawn starts `sh -c command` inside cwd with env, attached to a new
// PTY sized cols x rows (spec §4.3 start: "a POSIX shell, -c, with the
// given command; no login shell semantics").
func spawn(command, cwd string, env []string, cols, rows int) (processHandle, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = env

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("spawn pty: %w", err)
	}
	return &ptyProcess{cmd: cmd, master: master}, nil
}

func (p *ptyProcess) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

func (p *ptyProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.master, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (p *ptyProcess) Signal(sig signalKind) error {
	if p.cmd.Process == nil {
		return nil
	}
	switch sig {
	case SignalTerm:
		return p.cmd.Process.Signal(syscall.SIGTERM)
	case SignalKill:
		return p.cmd.Process.Signal(syscall.SIGKILL)
	case SignalWinch:
		return p.cmd.Process.Signal(syscall.SIGWINCH)
	default:
		return fmt.Errorf("unknown signal kind %d", sig)
	}
}

// Wait blocks until the child exits and returns its exit code,
// following the same WaitStatus unwrapping the standard library
// recommends for *exec.ExitError.
func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal()), nil
			}
			return status.ExitStatus(), nil
		}
	}
	return -1, err
}

func (p *ptyProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Close() error {
	return p.master.Close()
}
