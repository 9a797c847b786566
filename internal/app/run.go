package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/config"
	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/watcher"
)

var (
	runDaemon      bool
	runDaemonChild bool
	runPIDFile     string
	runLogFile     string
	runStop        bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring and auto-recovery loop",
		Long: `Start the self-healing loop.

Every monitoring interval, failsafe runs all health checks. When the verdict is
DEGRADED or CRITICAL, each critical failure is classified and its recovery plan
runs step by step. A checkpoint is taken every checkpoint interval.

Run modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as a background process
  • Stop: Stop a running daemon

Send SIGHUP to the daemon to reopen its log files after external rotation.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  failsafe run

  # Run as background daemon
  failsafe run --daemon

  # Stop running daemon
  failsafe run --stop

  # Use custom PID and log files
  failsafe run --daemon --pid-file /tmp/failsafe.pid --log-file /tmp/failsafe.log`,
		RunE: runRun,
	}
)

func init() {
	runCmd.Flags().BoolVar(&runDaemon, "daemon", false, "run as background daemon")
	runCmd.Flags().BoolVar(&runDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	runCmd.Flags().StringVar(&runPIDFile, "pid-file", "", "PID file path (default: ~/.failsafe/failsafe.pid)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "log file path (default: ~/.failsafe/daemon.log)")
	runCmd.Flags().BoolVar(&runStop, "stop", false, "stop running daemon")

	// Hide the internal daemon-child flag from help
	runCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile, logFile := daemonFiles(cfg)

	// Handle stop command
	if runStop {
		return stopDaemon(pidFile)
	}

	// Handle daemon mode
	if runDaemon {
		return startDaemon(pidFile, logFile)
	}

	svc, err := NewService(cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Handle daemon child process
	if runDaemonChild {
		// stdout/stderr are redirected to the daemon log file
		return watcher.RunDaemon(commandContext(cmd), pidFile, svc.Run)
	}

	return runForeground(commandContext(cmd), svc)
}

// daemonFiles resolves the PID and log file paths from flags or config.
func daemonFiles(cfg *config.Config) (pidFile, logFile string) {
	pidFile, logFile = cfg.Paths.PIDFile, cfg.Paths.DaemonLog
	if runPIDFile != "" {
		pidFile = runPIDFile
	}
	if runLogFile != "" {
		logFile = runLogFile
	}
	return pidFile, logFile
}

// daemonArgs returns the arguments the daemon child is started with.
func daemonArgs(pidFile, logFile string) []string {
	args := []string{"run", "--pid-file", pidFile, "--log-file", logFile}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if debugLog {
		args = append(args, "--debug")
	}
	return args
}

func stopDaemon(pidFile string) error {
	running, err := watcher.IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon...")
	spinner.Start()
	if err := watcher.StopDaemon(pidFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")

	return nil
}

func startDaemon(pidFile, logFile string) error {
	spinner := output.NewSpinner("Starting daemon...")
	spinner.Start()
	pid, err := watcher.StartDaemon(pidFile, logFile, daemonArgs(pidFile, logFile))
	if err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Printf("\nAuto-recovery daemon started (PID %d)\n", pid)
	fmt.Printf("  PID file: %s\n", pidFile)
	fmt.Printf("  Log file: %s\n", logFile)
	fmt.Printf("\nTo stop: failsafe run --stop\n")

	return nil
}

func runForeground(ctx context.Context, svc *Service) error {
	fmt.Println("Starting auto-recovery (press Ctrl+C to stop)...")
	fmt.Printf("  Monitoring every %s, checkpoint every %s\n",
		svc.Config.Monitor.Interval, svc.Config.Checkpoint.Interval)
	if svc.Server != nil {
		fmt.Printf("  Status endpoint: http://%s/health\n", svc.Config.Server.Addr)
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		return err
	}

	fmt.Println("\nAuto-recovery stopped")
	return nil
}
