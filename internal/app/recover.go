package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/recovery"
	"github.com/blackwell-systems/failsafe/internal/watcher"
)

var (
	recoverListPlans bool
	recoverForce     bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run one monitoring pass and execute any recovery it calls for",
	Long: `Runs a single pass of the self-healing loop in the foreground.

Health checks run first. If the verdict is DEGRADED or CRITICAL, each
critical failure is classified and its recovery plan is executed, exactly
as the daemon would. Use 'failsafe health' to see the report without acting.`,
	Example: `  failsafe recover
  failsafe recover --list-plans`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverListPlans, "list-plans", false, "list the recovery plan catalog and exit")
	recoverCmd.Flags().BoolVar(&recoverForce, "force", false, "run even if the daemon is running")

	RootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	if recoverListPlans {
		fmt.Print(output.RenderPlanTable(recovery.DefaultCatalog().Plans()))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !recoverForce {
		running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
		if err != nil {
			return fmt.Errorf("failed to check daemon status: %w", err)
		}
		if running {
			return fmt.Errorf("daemon is running and already recovers automatically\n\nUse --force to run a pass anyway")
		}
	}

	svc, err := NewService(cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	spinner := output.NewSpinner("Running health checks...")
	svc.Executor.OnStep(func(plan recovery.Plan, n int, step recovery.Step) {
		spinner.Step(plan.ID, n, len(plan.Steps), string(step.Action))
	})
	spinner.Start()
	report, err := svc.Orchestrator.Tick(commandContext(cmd))
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("monitoring pass failed: %w", err)
	}

	fmt.Print(output.RenderHealthReport(report))
	fmt.Println()

	outcomes := svc.Orchestrator.Status().LastOutcomes
	if !report.Verdict.NeedsRecovery() {
		fmt.Println("✓ No recovery needed")
		return nil
	}
	if len(outcomes) == 0 {
		fmt.Println("⚠ No recovery plan matched the critical failures")
		return fmt.Errorf("manual intervention required")
	}

	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Success:
			fmt.Printf("✓ %s completed (%d steps)\n", o.PlanID, o.StepsRun)
		case o.Skipped:
			fmt.Printf("⚠ %s skipped: another plan was running\n", o.PlanID)
		default:
			failed++
			fmt.Printf("✗ %s failed at %s: %v\n", o.PlanID, o.FailedStep, o.Err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d recovery plan(s) failed", failed)
	}
	return nil
}
