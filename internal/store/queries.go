package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert operations

// InsertAlert stores an alert. A missing ID or timestamp is filled in.
func (s *Store) InsertAlert(alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	query := `
		INSERT INTO alerts (id, timestamp, severity, category, description,
			affected_system, remediation_suggestion, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		alert.ID,
		alert.Timestamp.UTC().Format(timeLayout),
		alert.Severity,
		alert.Category,
		alert.Description,
		alert.AffectedSystem,
		alert.RemediationSuggestion,
		alert.Resolved,
	)
	if err != nil {
		return wrapQueryErr("failed to insert alert", err)
	}

	return nil
}

// ListAlerts returns alerts newest first. A limit of 0 returns every alert.
func (s *Store) ListAlerts(limit int, unresolvedOnly bool) ([]*Alert, error) {
	query := `
		SELECT id, timestamp, severity, category, description,
			affected_system, remediation_suggestion, resolved
		FROM alerts
	`
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrapQueryErr("failed to list alerts", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		var alert Alert
		var ts string
		var affected, remediation sql.NullString

		err := rows.Scan(
			&alert.ID,
			&ts,
			&alert.Severity,
			&alert.Category,
			&alert.Description,
			&affected,
			&remediation,
			&alert.Resolved,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}

		alert.AffectedSystem = affected.String
		alert.RemediationSuggestion = remediation.String
		alert.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for alert %s: %w", alert.ID, err)
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// ResolveAlert marks an alert as resolved.
func (s *Store) ResolveAlert(id string) error {
	result, err := s.db.Exec("UPDATE alerts SET resolved = 1 WHERE id = ?", id)
	if err != nil {
		return wrapQueryErr("failed to resolve alert", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s not found", id)
	}

	return nil
}

// Health report operations

// InsertHealthReport persists a monitoring pass summary and returns its ID.
func (s *Store) InsertHealthReport(rec *HealthReportRecord) (int64, error) {
	query := `
		INSERT INTO health_reports (timestamp, verdict, critical_failures, warnings, summary)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.Verdict,
		rec.CriticalFailures,
		rec.Warnings,
		rec.Summary,
	)
	if err != nil {
		return 0, wrapQueryErr("failed to insert health report", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get health report ID: %w", err)
	}

	return id, nil
}

// ListHealthReports returns the most recent health report summaries, newest first.
func (s *Store) ListHealthReports(limit int) ([]*HealthReportRecord, error) {
	query := `
		SELECT id, timestamp, verdict, critical_failures, warnings, summary
		FROM health_reports
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, wrapQueryErr("failed to list health reports", err)
	}
	defer rows.Close()

	var records []*HealthReportRecord
	for rows.Next() {
		var rec HealthReportRecord
		var ts string
		var summary sql.NullString

		if err := rows.Scan(&rec.ID, &ts, &rec.Verdict, &rec.CriticalFailures, &rec.Warnings, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan health report row: %w", err)
		}

		rec.Summary = summary.String
		rec.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for health report %d: %w", rec.ID, err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health reports: %w", err)
	}

	return records, nil
}

// Recovery run operations

// InsertRecoveryRun records a plan execution and returns its ID.
func (s *Store) InsertRecoveryRun(run *RecoveryRun) (int64, error) {
	query := `
		INSERT INTO recovery_runs (plan_id, category, started_at, finished_at,
			success, steps_run, failed_step, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		run.PlanID,
		run.Category,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.Success,
		run.StepsRun,
		run.FailedStep,
		run.Error,
	)
	if err != nil {
		return 0, wrapQueryErr("failed to insert recovery run", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get recovery run ID: %w", err)
	}

	return id, nil
}

// ListRecoveryRuns returns the most recent plan executions, newest first.
func (s *Store) ListRecoveryRuns(limit int) ([]*RecoveryRun, error) {
	query := `
		SELECT id, plan_id, category, started_at, finished_at, success,
			steps_run, failed_step, error
		FROM recovery_runs
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, wrapQueryErr("failed to list recovery runs", err)
	}
	defer rows.Close()

	var runs []*RecoveryRun
	for rows.Next() {
		var run RecoveryRun
		var started, finished string
		var failedStep, errMsg sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.PlanID,
			&run.Category,
			&started,
			&finished,
			&run.Success,
			&run.StepsRun,
			&failedStep,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery run row: %w", err)
		}

		run.FailedStep = failedStep.String
		run.Error = errMsg.String
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for recovery run %d: %w", run.ID, err)
		}
		if run.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for recovery run %d: %w", run.ID, err)
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recovery runs: %w", err)
	}

	return runs, nil
}
