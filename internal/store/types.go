package store

import "time"

// Alert severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Alert is a health or recovery event surfaced to operators.
type Alert struct {
	ID                    string
	Timestamp             time.Time
	Severity              string
	Category              string
	Description           string
	AffectedSystem        string
	RemediationSuggestion string
	Resolved              bool
}

// HealthReportRecord is the persisted summary of one monitoring pass.
type HealthReportRecord struct {
	ID               int64
	Timestamp        time.Time
	Verdict          string
	CriticalFailures int
	Warnings         int
	Summary          string
}

// RecoveryRun records one recovery plan execution.
type RecoveryRun struct {
	ID         int64
	PlanID     string
	Category   string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	StepsRun   int
	FailedStep string // action name, empty on success
	Error      string
}

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// parseTime reads a stored timestamp. The driver hands TIMESTAMP columns
// back as time.Time, which database/sql formats as RFC3339Nano with trailing
// zeros dropped, so the fixed-width write layout cannot be used here.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
