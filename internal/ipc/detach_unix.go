//go:build unix

package ipc

import (
	"os/exec"
	"syscall"
)

// setDetached puts the auto-started daemon in its own session so it
// survives the spawning client exiting (spec §4.5: "double-fork or
// equivalent"). Setsid alone is enough here; calling Setpgid after
// Setsid on the new session leader is redundant (the session leader is
// already its own process group leader) and fails with EPERM on some
// platforms, so it's deliberately not set.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
