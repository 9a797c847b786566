package app

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/logging"
	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/store"
	"github.com/blackwell-systems/failsafe/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status and recent activity",
	Long: `Display the current status of the failsafe daemon.

Shows:
  • Daemon running status and PID
  • Configuration and database locations
  • Host vitals: CPU, load average, memory, disk, network and process count
  • Verdict of the last monitoring pass
  • Checkpoint count and the most recent checkpoint
  • Unresolved alerts by severity
  • Recent recovery runs`,
	Example: `  # Check status
  failsafe status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, _ := getConfigPath()

	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	const label = "%-14s"

	fmt.Println()

	if running {
		pid, _ := watcher.ReadPIDFile(cfg.Paths.PIDFile)
		fmt.Printf(label+"running (since %s, PID %d)\n", "Daemon:", daemonSince(cfg.Paths.PIDFile), pid)
	} else {
		fmt.Printf(label+"stopped  (run 'failsafe run --daemon')\n", "Daemon:")
	}

	configNote := ""
	if _, err := os.Stat(path); os.IsNotExist(err) {
		configNote = " (not found, using defaults)"
	}
	fmt.Printf(label+"%s%s\n", "Config:", path, configNote)

	vitals, err := readVitals(commandContext(cmd), cfg)
	fmt.Print(output.RenderVitals(vitals, cfg.CriticalProcesses))
	if err != nil {
		fmt.Printf(label+"partial: %v\n", "Host:", err)
	}

	cpLine := "none"
	cps, err := newCheckpointManager(cfg, logging.Discard()).List()
	if err == nil && len(cps) > 0 {
		cpLine = fmt.Sprintf("%d kept · latest %s (%s)", len(cps), cps[0].ID, humanize.Time(cps[0].Timestamp))
	}
	fmt.Printf(label+"%s\n", "Checkpoints:", cpLine)

	st, err := store.OpenReadOnly(cfg.Paths.Database)
	if err != nil {
		fmt.Printf(label+"not initialized (run 'failsafe run')\n", "Database:")
		fmt.Println()
		return nil
	}
	defer st.Close()

	dbLine := cfg.Paths.Database
	if fi, err := os.Stat(cfg.Paths.Database); err == nil {
		dbLine = fmt.Sprintf("%s (%s)", dbLine, humanize.IBytes(uint64(fi.Size())))
	}
	fmt.Printf(label+"%s\n", "Database:", dbLine)

	reports, err := st.ListHealthReports(1)
	switch {
	case err != nil:
		fmt.Printf(label+"unreadable: %v\n", "Last check:", err)
	case len(reports) == 0:
		fmt.Printf(label+"no monitoring passes recorded\n", "Last check:")
	default:
		r := reports[0]
		fmt.Printf(label+"%s · %d critical · %d warnings · %s\n", "Last check:",
			r.Verdict, r.CriticalFailures, r.Warnings, humanize.Time(r.Timestamp))
	}

	if alerts, err := st.ListAlerts(0, true); err != nil {
		fmt.Printf(label+"unreadable: %v\n", "Alerts:", err)
	} else {
		fmt.Printf(label+"%s\n", "Alerts:", output.RenderAlertSummary(alerts))
	}

	runs, err := st.ListRecoveryRuns(5)
	if err != nil {
		fmt.Printf(label+"unreadable: %v\n", "Recoveries:", err)
	} else if len(runs) > 0 {
		fmt.Println()
		fmt.Println("Recent recovery runs:")
		fmt.Print(output.RenderRecoveryRunTable(runs))
	}

	fmt.Println()
	return nil
}

// daemonSince returns a human-readable age of the PID file (proxy for daemon start time).
func daemonSince(pidFile string) string {
	fi, err := os.Stat(pidFile)
	if err != nil {
		return "unknown"
	}
	return humanize.Time(fi.ModTime())
}
