// Package health runs named health probes and aggregates their results into
// an overall verdict.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a single probe run.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusWarn  Status = "WARN"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR" // the probe panicked, errored or timed out
)

// Failed reports whether the status counts as a failure. WARN does.
func (s Status) Failed() bool {
	return s != StatusPass
}

// Result is what a probe returns. Failure is data, not an error.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func Pass(msg string, details map[string]any) Result {
	return Result{Status: StatusPass, Message: msg, Details: details}
}

func Warn(msg string, details map[string]any) Result {
	return Result{Status: StatusWarn, Message: msg, Details: details}
}

func Fail(msg string, details map[string]any) Result {
	return Result{Status: StatusFail, Message: msg, Details: details}
}

func errorResult(format string, args ...any) Result {
	return Result{Status: StatusError, Message: "Health check error: " + fmt.Sprintf(format, args...)}
}

// Check is a health probe.
type Check interface {
	Run(ctx context.Context) Result
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc func(ctx context.Context) Result

func (f CheckFunc) Run(ctx context.Context) Result {
	return f(ctx)
}

// Verdict is the overall health of one monitoring pass.
type Verdict string

const (
	Healthy  Verdict = "HEALTHY"
	Warning  Verdict = "WARNING"
	Degraded Verdict = "DEGRADED"
	Critical Verdict = "CRITICAL"
)

// Verdicts lists every verdict from best to worst.
var Verdicts = []Verdict{Healthy, Warning, Degraded, Critical}

// NeedsRecovery reports whether the verdict should trigger recovery planning.
func (v Verdict) NeedsRecovery() bool {
	return v == Critical || v == Degraded
}

// degradedWarnings is the warning count above which a pass is DEGRADED.
const degradedWarnings = 2

func verdictFor(criticalFailures, warnings int) Verdict {
	switch {
	case criticalFailures > 0:
		return Critical
	case warnings > degradedWarnings:
		return Degraded
	case warnings > 0:
		return Warning
	default:
		return Healthy
	}
}

// ProbeResult is one probe's entry in a Report.
type ProbeResult struct {
	Name                string        `json:"name"`
	Critical            bool          `json:"critical"`
	Result              Result        `json:"result"`
	Duration            time.Duration `json:"duration"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Failure is a non-passing probe, as handed to the failure classifier.
type Failure struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Report is the aggregated result of one monitoring pass.
type Report struct {
	Timestamp        time.Time     `json:"timestamp"`
	Verdict          Verdict       `json:"verdict"`
	Results          []ProbeResult `json:"results"`
	CriticalFailures []Failure     `json:"critical_failures"`
	Warnings         []Failure     `json:"warnings"`
}

// Summary is a one-line description of the report.
func (r *Report) Summary() string {
	if len(r.CriticalFailures) == 0 && len(r.Warnings) == 0 {
		return fmt.Sprintf("%s: all %d checks passed", r.Verdict, len(r.Results))
	}
	var parts []string
	for _, f := range r.CriticalFailures {
		parts = append(parts, f.Name)
	}
	for _, f := range r.Warnings {
		parts = append(parts, f.Name)
	}
	return fmt.Sprintf("%s: %d critical, %d warnings (%s)",
		r.Verdict, len(r.CriticalFailures), len(r.Warnings), strings.Join(parts, ", "))
}

// Registration is a point-in-time copy of a registered probe's state.
type Registration struct {
	Name                string
	Critical            bool
	ConsecutiveFailures int
	LastSuccess         *time.Time
	LastResult          *Result
}
