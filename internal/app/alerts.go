package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/failsafe/internal/output"
	"github.com/blackwell-systems/failsafe/internal/store"
)

var (
	alertsAll   bool
	alertsLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show alerts raised by the monitoring loop",
	Long: `Lists alerts newest first. By default only unresolved alerts are shown.

Alerts are raised when a critical failure has no recovery plan, when a
recovery plan fails, and when a scheduled checkpoint cannot be created.`,
	Example: `  failsafe alerts
  failsafe alerts --all --limit 50
  failsafe alerts resolve 3f2a9c1e`,
	Args: cobra.NoArgs,
	RunE: runAlerts,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve [alert-id]",
	Short: "Mark an alert as resolved",
	Long:  `Marks an alert as resolved. Any unique prefix of the alert ID is accepted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsAll, "all", false, "include resolved alerts")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "maximum number of alerts to show (0 for all)")

	alertsCmd.AddCommand(alertsResolveCmd)
	RootCmd.AddCommand(alertsCmd)
}

// openStore opens the database for cfg, creating the schema if needed.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return st, nil
}

func runAlerts(cmd *cobra.Command, args []string) error {
	if alertsLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	alerts, err := st.ListAlerts(alertsLimit, !alertsAll)
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		if alertsAll {
			fmt.Println("No alerts recorded.")
		} else {
			fmt.Println("✓ No unresolved alerts")
		}
		return nil
	}

	fmt.Print(output.RenderAlertTable(alerts))
	fmt.Println()
	fmt.Println(output.RenderAlertSummary(alerts))
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	alerts, err := st.ListAlerts(0, false)
	if err != nil {
		return err
	}

	id, err := matchAlertID(alerts, args[0])
	if err != nil {
		return err
	}

	if err := st.ResolveAlert(id); err != nil {
		return err
	}

	fmt.Printf("✓ Alert %s resolved\n", id)
	return nil
}

// matchAlertID returns the single alert ID starting with prefix.
func matchAlertID(alerts []*store.Alert, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("alert ID must not be empty")
	}

	var matches []string
	for _, a := range alerts {
		if a.ID == prefix {
			return a.ID, nil
		}
		if strings.HasPrefix(a.ID, prefix) {
			matches = append(matches, a.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("alert %s not found\n\nRun 'failsafe alerts --all' to see recorded alerts", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("alert ID %s is ambiguous (%d matches)", prefix, len(matches))
	}
}
