package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/config"
	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/watcher"
)

var (
	checkpointFlagYes   bool
	checkpointFlagForce bool
	checkpointFlagKeep  int
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create, list, restore and prune checkpoints",
	Long: `Checkpoints capture the live configuration, database, logs, module files
and critical file hashes. The daemon creates one every checkpoint interval and
keeps the newest ones up to checkpoint.max_kept.`,
	Example: `  failsafe checkpoint create
  failsafe checkpoint list
  failsafe checkpoint show latest
  failsafe checkpoint restore latest
  failsafe checkpoint verify latest
  failsafe checkpoint prune --keep 3`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a checkpoint now",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointList,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show [checkpoint-id | latest]",
	Short: "Show a checkpoint record",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore [checkpoint-id | latest]",
	Short: "Restore the configuration, database and logs from a checkpoint",
	Long: `Replaces the live configuration, database and log directory with the
contents of a checkpoint, then verifies critical files against the hashes
recorded in it.

The daemon writes to the live database on every pass, so restore refuses
to run while it is up. Stop it first with 'failsafe run --stop', or pass
--force, in which case the daemon is told to reopen its log files.

Arguments:
  checkpoint-id  The ID shown by 'failsafe checkpoint list'
  latest         Restore the most recent checkpoint`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointRestore,
}

var checkpointVerifyCmd = &cobra.Command{
	Use:   "verify [checkpoint-id | latest]",
	Short: "Compare critical files against a checkpoint's hashes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointVerify,
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest checkpoints",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointPrune,
}

func init() {
	checkpointRestoreCmd.Flags().BoolVar(&checkpointFlagYes, "yes", false, "Skip confirmation prompt")
	checkpointRestoreCmd.Flags().BoolVar(&checkpointFlagForce, "force", false, "restore even if the daemon is running")
	checkpointPruneCmd.Flags().IntVar(&checkpointFlagKeep, "keep", 0, "number of checkpoints to keep (default: checkpoint.max_kept)")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointVerifyCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)

	RootCmd.AddCommand(checkpointCmd)
}

// openCheckpoints loads the config and returns its checkpoint manager.
// Log output goes to the category files only.
func openCheckpoints() (*config.Config, *checkpoint.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	sink, err := newSink(cfg, io.Discard)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	return cfg, newCheckpointManager(cfg, sink), func() { sink.Close() }, nil
}

// resolveCheckpointID maps "latest" to the newest checkpoint ID.
func resolveCheckpointID(mgr *checkpoint.Manager, arg string) (string, error) {
	if strings.ToLower(arg) != "latest" {
		return arg, nil
	}

	cp, err := mgr.Latest()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return "", fmt.Errorf("no checkpoints available\n\nCreate one with 'failsafe checkpoint create'")
	}
	if err != nil {
		return "", err
	}
	return cp.ID, nil
}

func checkpointNotFound(id string, err error) error {
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("checkpoint %s not found\n\nRun 'failsafe checkpoint list' to see available checkpoints", id)
	}
	return err
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	_, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	spinner := output.NewSpinner("Creating checkpoint...")
	spinner.Start()
	cp, err := mgr.Create(commandContext(cmd))
	if err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	spinner.StopWithMessage(fmt.Sprintf("✓ Checkpoint %s created", cp.ID))

	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	_, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	cps, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(cps) == 0 {
		fmt.Println("No checkpoints available.")
		fmt.Println("\nThe daemon creates checkpoints automatically.")
		fmt.Println("Use 'failsafe checkpoint create' to create one now.")
		return nil
	}

	fmt.Print(output.RenderCheckpointTable(cps))
	fmt.Printf("\n%d of at most %d checkpoints kept in %s\n", len(cps), mgr.MaxKept(), mgr.Dir())
	return nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	_, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	id, err := resolveCheckpointID(mgr, args[0])
	if err != nil {
		return err
	}

	cp, err := mgr.Get(id)
	if err != nil {
		return checkpointNotFound(id, err)
	}

	fmt.Print(output.RenderCheckpointDetail(cp))
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	cfg, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running && !checkpointFlagForce {
		return fmt.Errorf("daemon is running and writing to the live database\n\nStop it with 'failsafe run --stop', or use --force to restore anyway")
	}

	id, err := resolveCheckpointID(mgr, args[0])
	if err != nil {
		return err
	}

	cp, err := mgr.Get(id)
	if err != nil {
		return checkpointNotFound(id, err)
	}

	fmt.Print(output.RenderCheckpointDetail(cp))
	fmt.Println()

	if !checkpointFlagYes && !confirm(fmt.Sprintf("Restore checkpoint %s? This replaces the live configuration, database and logs. [y/N]: ", id)) {
		fmt.Println("Restoration cancelled.")
		return nil
	}

	spinner := output.NewSpinner("Restoring checkpoint...")
	spinner.Start()
	res, err := mgr.Restore(commandContext(cmd), id)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("failed to restore checkpoint %s: %w", id, err)
	}

	fmt.Print(output.RenderRestoreResult(res))

	// The daemon holds the replaced log files open.
	if running {
		if err := watcher.SignalDaemon(cfg.Paths.PIDFile, syscall.SIGHUP); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Could not signal daemon to reopen logs: %v\n", err)
		}
	}

	if len(res.Discrepancies) > 0 {
		return fmt.Errorf("restore completed with %d integrity discrepancies", len(res.Discrepancies))
	}
	return nil
}

func runCheckpointVerify(cmd *cobra.Command, args []string) error {
	_, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	id, err := resolveCheckpointID(mgr, args[0])
	if err != nil {
		return err
	}

	discrepancies, err := mgr.Verify(commandContext(cmd), id)
	if err != nil {
		return checkpointNotFound(id, err)
	}

	if len(discrepancies) == 0 {
		fmt.Printf("✓ All critical files match checkpoint %s\n", id)
		return nil
	}

	fmt.Printf("✗ %d critical files differ from checkpoint %s:\n", len(discrepancies), id)
	for _, d := range discrepancies {
		fmt.Printf("  %s\n", d)
	}
	return fmt.Errorf("integrity check failed")
}

func runCheckpointPrune(cmd *cobra.Command, args []string) error {
	_, mgr, done, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer done()

	keep := checkpointFlagKeep
	if keep == 0 {
		keep = mgr.MaxKept()
	}
	if keep < 1 {
		return fmt.Errorf("--keep must be at least 1")
	}

	removed, err := mgr.Prune(keep)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	if len(removed) == 0 {
		fmt.Printf("Nothing to prune (keeping %d)\n", keep)
		return nil
	}
	for _, id := range removed {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Printf("✓ Removed %d checkpoints\n", len(removed))
	return nil
}

// confirm prompts the user with a yes/no question.
func confirm(prompt string) bool {
	fmt.Print(prompt)

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
