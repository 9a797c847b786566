package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/config"
)

var (
	configPath string
	debugLog   bool

	// RootCmd is the root command for failsafe
	RootCmd = &cobra.Command{
		Use:   "failsafe",
		Short: "Self-healing supervisor with checkpoints and automatic recovery",
		Long: `failsafe watches the health of a host and the application it supervises,
and repairs common failures automatically.

Every monitoring pass runs a set of health checks (disk space, memory,
critical files, database connectivity). When critical checks fail, the
failure is classified and a recovery plan runs step by step: cleaning up
logs and backups, freeing memory, restarting modules, or restoring the
latest checkpoint.

Checkpoints capture the live configuration, database, logs and critical
file hashes, and are taken automatically every hour.

Quick Start:
  1. failsafe health               # One-off health report
  2. failsafe checkpoint create    # Take a first checkpoint
  3. failsafe run --daemon         # Start monitoring in the background

Examples:
  # Check daemon status
  failsafe status

  # List checkpoints
  failsafe checkpoint list

  # Restore the latest checkpoint
  failsafe checkpoint restore latest

  # Show unresolved alerts
  failsafe alerts`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("failsafe: self-healing supervisor with automatic recovery")
			fmt.Println()
			fmt.Println("Tip: Run 'failsafe status' to check the daemon.")
			fmt.Println("     Run 'failsafe health' for a health report.")
			fmt.Println("     Run 'failsafe --help' for all commands.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: $FAILSAFE_CONFIG or ~/.failsafe/failsafe.yaml)")
	RootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}

// getConfigPath returns the config path from the flag, $FAILSAFE_CONFIG, or
// the default location.
func getConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if env := os.Getenv("FAILSAFE_CONFIG"); env != "" {
		return env, nil
	}

	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "failsafe.yaml"), nil
}

// loadConfig loads the configuration and creates its directories.
func loadConfig() (*config.Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debugLog {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}
