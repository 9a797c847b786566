// Package output provides terminal output utilities for failsafe.
//
// This package includes:
//   - Table rendering for health reports, checkpoints, alerts, recovery runs and plans
//   - Spinners for long-running operations such as checkpoint creation
//   - Human-readable formatting for sizes, dates, and other data
//
// All table rendering functions use ASCII characters and ANSI color codes for terminal output.
// Spinners are thread-safe and can be used from multiple goroutines.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/recovery"
	"github.com/blackwell-systems/failsafe/internal/store"
	"github.com/blackwell-systems/failsafe/internal/sysinfo"
)

// ANSI color codes for status and severity display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// colorPad pads text to width before coloring so that escape codes do not
// break column alignment.
func colorPad(color, text string, width int) string {
	return colorize(color, fmt.Sprintf("%-*s", width, text))
}

// RenderHealthReport renders the verdict and one row per probe.
func RenderHealthReport(report *health.Report) string {
	if report == nil {
		return "No health report available.\n"
	}

	var sb strings.Builder

	sb.WriteString("Verdict: " + colorize(verdictColor(report.Verdict), string(report.Verdict)))
	sb.WriteString(fmt.Sprintf("  (%d critical, %d warnings)\n\n",
		len(report.CriticalFailures), len(report.Warnings)))

	// Header
	sb.WriteString(fmt.Sprintf("%-22s %-9s %-6s %-8s %s\n",
		"Check", "Critical", "Status", "Time", "Message"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	// Rows
	for _, r := range report.Results {
		critical := "no"
		if r.Critical {
			critical = "yes"
		}
		sb.WriteString(fmt.Sprintf("%-22s %-9s %s %-8s %s\n",
			truncate(r.Name, 22),
			critical,
			colorPad(statusColor(r.Result.Status), string(r.Result.Status), 6),
			formatDuration(r.Duration),
			truncate(r.Result.Message, 60)))
	}

	return sb.String()
}

// RenderCheckpointTable renders a table of checkpoints, newest first.
func RenderCheckpointTable(checkpoints []*checkpoint.Checkpoint) string {
	if len(checkpoints) == 0 {
		return "No checkpoints found.\n"
	}

	sorted := make([]*checkpoint.Checkpoint, len(checkpoints))
	copy(sorted, checkpoints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("%-32s %-17s %-7s %-9s %-5s %s\n",
		"ID", "Created", "Config", "Database", "Logs", "Files"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	// Rows
	for _, cp := range sorted {
		sb.WriteString(fmt.Sprintf("%-32s %-17s %-7s %-9s %-5s %d\n",
			truncate(cp.ID, 32),
			formatRelativeTime(cp.Timestamp),
			yesNo(cp.ConfigurationPresent),
			yesNo(cp.DatabaseBackupPath != ""),
			yesNo(cp.LogsArchivePath != ""),
			len(cp.FileHashes)))
	}

	return sb.String()
}

// RenderCheckpointDetail renders a single checkpoint record.
func RenderCheckpointDetail(cp *checkpoint.Checkpoint) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Checkpoint: %s\n", cp.ID))
	sb.WriteString(fmt.Sprintf("Created:    %s (%s)\n",
		cp.Timestamp.Local().Format("2006-01-02 15:04:05"), formatRelativeTime(cp.Timestamp)))
	sb.WriteString(fmt.Sprintf("Host:       %s (%s/%s, %d CPUs)\n",
		cp.SystemState.Hostname, cp.SystemState.OS, cp.SystemState.Arch, cp.SystemState.NumCPU))
	if cp.SystemState.MemoryTotal > 0 {
		sb.WriteString(fmt.Sprintf("Memory:     %s\n", humanize.IBytes(cp.SystemState.MemoryTotal)))
	}
	if cp.SystemState.DiskTotal > 0 {
		sb.WriteString(fmt.Sprintf("Disk:       %s\n", humanize.IBytes(cp.SystemState.DiskTotal)))
	}
	sb.WriteString(fmt.Sprintf("Config:     %s\n", yesNo(cp.ConfigurationPresent)))
	sb.WriteString(fmt.Sprintf("Database:   %s\n", orDash(cp.DatabaseBackupPath)))
	sb.WriteString(fmt.Sprintf("Logs:       %s\n", orDash(cp.LogsArchivePath)))

	if len(cp.FileHashes) > 0 {
		sb.WriteString("\nCritical files:\n")
		for _, path := range sortedKeys(cp.FileHashes) {
			sb.WriteString(fmt.Sprintf("  %s  %s\n", prefix(cp.FileHashes[path], 12), path))
		}
	}

	if len(cp.ModuleStates) > 0 {
		sb.WriteString("\nModules:\n")
		names := make([]string, 0, len(cp.ModuleStates))
		for name := range cp.ModuleStates {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ms := cp.ModuleStates[name]
			if !ms.Present {
				sb.WriteString(fmt.Sprintf("  %-20s missing (%s)\n", truncate(name, 20), ms.Path))
				continue
			}
			sb.WriteString(fmt.Sprintf("  %-20s %-8s %s\n",
				truncate(name, 20), humanize.IBytes(uint64(ms.Size)), ms.Path))
		}
	}

	return sb.String()
}

// RenderRestoreResult summarizes a completed restore.
func RenderRestoreResult(res *checkpoint.RestoreResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Restored checkpoint %s\n", res.ID))
	sb.WriteString(fmt.Sprintf("  Config:   %s\n", restoredLabel(res.ConfigRestored)))
	sb.WriteString(fmt.Sprintf("  Database: %s\n", restoredLabel(res.DatabaseRestored)))
	sb.WriteString(fmt.Sprintf("  Logs:     %s\n", restoredLabel(res.LogsRestored)))

	if len(res.Discrepancies) == 0 {
		sb.WriteString(colorize(colorGreen, "✓ all critical files match the checkpoint") + "\n")
		return sb.String()
	}

	sb.WriteString(colorize(colorYellow, fmt.Sprintf("⚠ %d integrity discrepancies:", len(res.Discrepancies))) + "\n")
	for _, d := range res.Discrepancies {
		sb.WriteString("  " + d.String() + "\n")
	}
	return sb.String()
}

// RenderAlertTable renders a table of alerts in the order given.
func RenderAlertTable(alerts []*store.Alert) string {
	if len(alerts) == 0 {
		return "No alerts.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("%-8s %-17s %-9s %-11s %s\n",
		"ID", "When", "Severity", "Category", "Description"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	// Rows
	for _, a := range alerts {
		desc := a.Description
		if a.Resolved {
			desc = "(resolved) " + desc
		}
		sb.WriteString(fmt.Sprintf("%-8s %-17s %s %-11s %s\n",
			prefix(a.ID, 8),
			formatRelativeTime(a.Timestamp),
			colorPad(severityColor(a.Severity), a.Severity, 9),
			truncate(a.Category, 11),
			truncate(desc, 50)))
	}

	return sb.String()
}

// RenderRecoveryRunTable renders recorded plan executions.
func RenderRecoveryRunTable(runs []*store.RecoveryRun) string {
	if len(runs) == 0 {
		return "No recovery runs recorded.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("%-17s %-16s %-8s %-6s %-8s %s\n",
		"When", "Plan", "Result", "Steps", "Took", "Failed Step"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	// Rows
	for _, r := range runs {
		result := colorPad(colorGreen, "ok", 8)
		if !r.Success {
			result = colorPad(colorRed, "failed", 8)
		}
		failed := orDash(r.FailedStep)
		if r.Error != "" {
			failed += ": " + r.Error
		}
		sb.WriteString(fmt.Sprintf("%-17s %-16s %s %-6d %-8s %s\n",
			formatRelativeTime(r.StartedAt),
			truncate(r.PlanID, 16),
			result,
			r.StepsRun,
			formatDuration(r.FinishedAt.Sub(r.StartedAt)),
			truncate(failed, 40)))
	}

	return sb.String()
}

// RenderPlanTable renders the recovery plan catalog.
func RenderPlanTable(plans []recovery.Plan) string {
	if len(plans) == 0 {
		return "No recovery plans.\n"
	}

	var sb strings.Builder

	for i, p := range plans {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("Plan:     %s (%s)\n", p.ID, p.Category))
		sb.WriteString(fmt.Sprintf("Estimate: %s, %.0f%% success, rollback %s\n",
			p.EstimatedTime, p.SuccessProbability*100, yesNo(p.RollbackAvailable)))
		for n, step := range p.Steps {
			sb.WriteString(fmt.Sprintf("  %d. %-20s %s\n", n+1, step.Action, step.Description))
		}
	}

	return sb.String()
}

// RenderAlertSummary renders a one-line count of unresolved alerts by severity.
// Format: "CRITICAL: 1 · HIGH: 2 · MEDIUM: 0 · LOW: 0"
func RenderAlertSummary(alerts []*store.Alert) string {
	counts := make(map[string]int)
	for _, a := range alerts {
		if !a.Resolved {
			counts[a.Severity]++
		}
	}

	severities := []string{store.SeverityCritical, store.SeverityHigh, store.SeverityMedium, store.SeverityLow}
	parts := make([]string, 0, len(severities))
	for _, sev := range severities {
		label := sev
		if counts[sev] > 0 {
			label = colorize(severityColor(sev), sev)
		}
		parts = append(parts, fmt.Sprintf("%s: %d", label, counts[sev]))
	}
	return strings.Join(parts, " · ")
}

// RenderVitals renders host vitals as labelled status lines. The process line
// is omitted when no process names are configured.
func RenderVitals(v *sysinfo.Vitals, processNames []string) string {
	var sb strings.Builder
	line := func(label, format string, args ...any) {
		fmt.Fprintf(&sb, "%-14s"+format+"\n", append([]any{label}, args...)...)
	}

	line("CPU:", "%.1f%% · load %.2f %.2f %.2f", v.CPUPercent, v.Load1, v.Load5, v.Load15)
	line("Memory:", "%s", usageLine(v.Memory))
	line("Disk:", "%s", usageLine(v.Disk))
	line("Network:", "rx %s · tx %s", humanize.IBytes(v.NetRxBytes), humanize.IBytes(v.NetTxBytes))
	if len(processNames) > 0 {
		line("Processes:", "%d running (%s)", v.Processes, strings.Join(processNames, ", "))
	}
	return sb.String()
}

func usageLine(u sysinfo.Usage) string {
	if u.Total == 0 {
		return "unavailable"
	}
	return fmt.Sprintf("%s / %s (%.1f%%)", humanize.IBytes(u.Used), humanize.IBytes(u.Total), u.Percent())
}

func verdictColor(v health.Verdict) string {
	switch v {
	case health.Healthy:
		return colorGreen
	case health.Warning:
		return colorYellow
	case health.Degraded, health.Critical:
		return colorRed
	default:
		return colorGray
	}
}

func statusColor(s health.Status) string {
	switch s {
	case health.StatusPass:
		return colorGreen
	case health.StatusWarn:
		return colorYellow
	case health.StatusFail, health.StatusError:
		return colorRed
	default:
		return colorGray
	}
}

func severityColor(sev string) string {
	switch sev {
	case store.SeverityCritical, store.SeverityHigh:
		return colorRed
	case store.SeverityMedium:
		return colorYellow
	default:
		return colorGray
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return humanize.Time(t)
	}
}

// formatDuration renders a duration with a unit suited to its size.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func restoredLabel(b bool) string {
	if b {
		return "restored"
	}
	return "not in checkpoint"
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// prefix returns the first n bytes of s, for IDs and hashes.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
