// Command terminalcpd is the daemon binary of spec §3/§6: it listens
// on the per-user Unix-domain socket, manages spawned terminals, and
// serves the IPC protocol until killed or told to stop.
//
// Grounded on wandb-catnip/container/internal/cmd/root.go +
// internal/cmd/run.go's cobra wiring (a root command, persistent
// flags, logger.Configure called from RunE before any subsystem
// starts), trimmed to the daemon's own narrow surface: no user-facing
// subcommands, since the CLI front-end is out of scope.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terminalcp/terminalcp/internal/config"
	"github.com/terminalcp/terminalcp/internal/ipc"
	"github.com/terminalcp/terminalcp/internal/logger"
	"github.com/terminalcp/terminalcp/internal/terminal"
)

var (
	socketFlag   string
	devFlag      bool
	debugFlag    bool
	rawBufBytes  int
	historyLines int
)

var rootCmd = &cobra.Command{
	Use:   "terminalcpd",
	Short: "terminalcp daemon: manages PTY-backed terminals over a Unix socket",
	RunE:  runDaemon,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&socketFlag, "socket", "", "override the daemon socket path (default ~/.terminalcp/server.sock)")
	rootCmd.Flags().BoolVar(&devFlag, "dev", false, "enable verbose console logging instead of plain log-file output")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable debug-level logging")
	rootCmd.Flags().IntVar(&rawBufBytes, "raw-buffer-bytes", 0, "per-terminal raw_buffer capacity in bytes (default 4MiB)")
	rootCmd.Flags().IntVar(&historyLines, "history-lines", 0, "per-terminal scrollback depth (default 10000 lines)")
	// --server exists for symmetry with spec §3's "--server or
	// auto-started by a client"; this binary only ever runs as the
	// server, so the flag is accepted and ignored rather than forking
	// user-facing subcommands.
	rootCmd.Flags().Bool("server", true, "run as the daemon (always true for this binary)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	rc, err := config.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "terminalcpd: resolving runtime config: %v\n", err)
		os.Exit(2)
	}

	socketPath := rc.SocketPath
	if socketFlag != "" {
		socketPath = socketFlag
	}

	level := logger.LevelInfo
	if debugFlag {
		level = logger.LevelDebug
	}
	if devFlag {
		logger.Configure(level, true)
	} else {
		logger.ConfigureForDaemon(level, rc.LogPath)
	}

	logger.Infof("terminalcpd starting, socket=%s", socketPath)

	mgr := terminal.NewManager(terminal.ManagerOptions{
		RawBufferBytes: rawBufBytes,
		HistoryLines:   historyLines,
	})
	srv := ipc.NewServer(mgr, socketPath, ipc.ServerOptions{})

	if err := srv.Listen(); err != nil {
		if err == ipc.ErrAlreadyRunning {
			logger.Infof("another terminalcpd instance already owns %s, exiting", socketPath)
			os.Exit(0)
		}
		logger.Errorf("failed to bind socket %s: %v", socketPath, err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Infof("received %s, shutting down", sig)
		srv.Shutdown()
	}()

	if err := srv.Serve(); err != nil {
		logger.Errorf("serve: %v", err)
		os.Exit(2)
	}

	logger.Infof("terminalcpd exiting cleanly")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "terminalcpd: %v\n", err)
		os.Exit(2)
	}
}
