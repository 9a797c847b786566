package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/logging"
	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/recovery"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run every health check once and print the report",
	Long: `Runs one monitoring pass without taking any recovery action.

Checks:
  • Disk usage of the monitored filesystem
  • Memory usage
  • Critical files are present
  • The database opens and has its tables

Critical failures are shown with the recovery plan the daemon would run.
Exits non-zero when the verdict is DEGRADED or CRITICAL.`,
	Example: `  failsafe health
  failsafe health --json`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print the report as JSON")

	RootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mon := newMonitor(cfg, logging.Discard())
	report := mon.RunAll(commandContext(cmd))

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	} else {
		fmt.Print(output.RenderHealthReport(report))
		printPlannedRecovery(report, recovery.DefaultCatalog())
	}

	if report.Verdict.NeedsRecovery() {
		return fmt.Errorf("system is %s", strings.ToLower(string(report.Verdict)))
	}
	return nil
}

// printPlannedRecovery lists the plan each critical failure maps to.
func printPlannedRecovery(report *health.Report, catalog *recovery.Catalog) {
	if len(report.CriticalFailures) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("Recovery:")
	for _, f := range report.CriticalFailures {
		category := recovery.Classify(f)
		if plan, ok := catalog.Lookup(category); ok {
			fmt.Printf("  %s → %s (%s)\n", f.Name, plan.ID, category)
		} else {
			fmt.Printf("  %s → no automatic recovery (%s)\n", f.Name, category)
		}
	}
}
