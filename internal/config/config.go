// Package config resolves the filesystem layout the daemon and client
// library agree on: the per-user state directory and the Unix-domain
// socket inside it (spec §6).
package config

import (
	"os"
	"path/filepath"
)

const (
	// dirName is the per-user state directory, relative to $HOME.
	dirName = ".terminalcp"

	// SocketFileName is the Unix-domain socket file inside dirName.
	SocketFileName = "server.sock"

	// LogFileName is where a detached daemon sends its log output.
	LogFileName = "daemon.log"

	// dirMode matches spec §6: directory created with mode 0700.
	dirMode = 0o700
	// socketMode matches spec §6: socket created with mode 0600.
	socketMode = 0o600
)

// Runtime holds the resolved paths for this invocation of the daemon or
// client. Unlike the teacher's RuntimeConfig (which branches on
// Docker/Container/Native execution environments), terminalcp only ever
// runs on the local host against the invoking user's home directory, so
// there is a single resolved configuration rather than a mode switch.
type Runtime struct {
	// Dir is the per-user state directory, e.g. ~/.terminalcp.
	Dir string
	// SocketPath is Dir/server.sock.
	SocketPath string
	// LogPath is Dir/daemon.log, used once the daemon detaches.
	LogPath string
}

// Default resolves the Runtime configuration from the current user's
// home directory, creating Dir if it does not already exist.
func Default() (*Runtime, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home == "" {
		home = "."
	}
	return FromHome(home)
}

// FromHome resolves the Runtime configuration rooted at the given home
// directory. Exposed separately from Default so tests can point it at a
// temporary directory without touching the real $HOME.
func FromHome(home string) (*Runtime, error) {
	dir := filepath.Join(home, dirName)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &Runtime{
		Dir:        dir,
		SocketPath: filepath.Join(dir, SocketFileName),
		LogPath:    filepath.Join(dir, LogFileName),
	}, nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, dirMode)
}

// SocketMode is the permission bits the IPC server must chmod the
// socket file to after binding (spec §6: "socket with mode 0600").
func SocketMode() os.FileMode {
	return socketMode
}
