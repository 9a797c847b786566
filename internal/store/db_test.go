package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper function to create an in-memory store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	if err := store.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return store
}

func TestNew(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store.db should not be nil")
	}
	if store.Path() != ":memory:" {
		t.Errorf("Path() = %q, want :memory:", store.Path())
	}
}

func TestCreateSchema(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	tables := []string{"alerts", "health_reports", "recovery_runs"}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	// Schema creation is idempotent.
	if err := store.CreateSchema(); err != nil {
		t.Errorf("second CreateSchema() failed: %v", err)
	}
}

func TestTableCount(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	n, err := store.TableCount()
	if err != nil {
		t.Fatalf("TableCount() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("TableCount() on empty db = %d, want 0", n)
	}

	if err := store.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	// AUTOINCREMENT creates sqlite_sequence, which must not be counted.
	n, err = store.TableCount()
	if err != nil {
		t.Fatalf("TableCount() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("TableCount() = %d, want 3", n)
	}
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.db")

	rw, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := rw.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	rw.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() failed: %v", err)
	}
	defer ro.Close()

	n, err := ro.TableCount()
	if err != nil {
		t.Fatalf("TableCount() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("TableCount() = %d, want 3", n)
	}

	if err := ro.InsertAlert(&Alert{Severity: SeverityLow, Category: "test", Description: "x"}); err == nil {
		t.Error("InsertAlert() on read-only store should fail")
	}
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.db"))
	if err == nil {
		t.Fatal("OpenReadOnly() should fail for a missing database")
	}
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.db")
	dst := filepath.Join(dir, "backup.db")

	live, err := New(src)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer live.Close()
	if err := live.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	// The live connection stays open while the backup runs.
	if err := live.InsertAlert(&Alert{Severity: SeverityHigh, Category: "system", Description: "kept"}); err != nil {
		t.Fatalf("InsertAlert() failed: %v", err)
	}

	// A stale file at dst is replaced.
	if err := os.WriteFile(dst, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Backup(context.Background(), src, dst); err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	bak, err := OpenReadOnly(dst)
	if err != nil {
		t.Fatalf("OpenReadOnly(backup) failed: %v", err)
	}
	defer bak.Close()

	alerts, err := bak.ListAlerts(0, false)
	if err != nil {
		t.Fatalf("ListAlerts() on backup failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Description != "kept" {
		t.Errorf("backup alerts = %+v, want the one live alert", alerts)
	}

	// Writes after the snapshot do not reach it.
	if err := live.InsertAlert(&Alert{Severity: SeverityLow, Category: "system", Description: "later"}); err != nil {
		t.Fatalf("InsertAlert() failed: %v", err)
	}
	alerts, err = bak.ListAlerts(0, false)
	if err != nil {
		t.Fatalf("ListAlerts() on backup failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("backup has %d alerts after a later live write, want 1", len(alerts))
	}
}

func TestBackup_MissingSourceIsNotCreated(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "missing.db")

	if err := Backup(context.Background(), src, filepath.Join(dir, "backup.db")); err == nil {
		t.Fatal("Backup() should fail for a missing database")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("Backup() created the missing source database: %v", err)
	}
}

func TestListAlerts_NoSchema_ReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	_, err = s.ListAlerts(0, false)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListAlerts() error = %v; want ErrNotInitialized", err)
	}
}

func TestErrNotInitialized_ErrorMessage(t *testing.T) {
	if !strings.Contains(ErrNotInitialized.Error(), "failsafe run") {
		t.Errorf("ErrNotInitialized message %q should mention 'failsafe run'", ErrNotInitialized.Error())
	}
}

func TestInsertAndListAlerts(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []*Alert{
		{Timestamp: base, Severity: SeverityMedium, Category: "system", Description: "first"},
		{Timestamp: base.Add(500 * time.Millisecond), Severity: SeverityHigh, Category: "system", Description: "second"},
		{Timestamp: base.Add(time.Second), Severity: SeverityCritical, Category: "recovery", Description: "third",
			AffectedSystem: "disk_space", RemediationSuggestion: "free space"},
	}
	for _, a := range alerts {
		if err := store.InsertAlert(a); err != nil {
			t.Fatalf("InsertAlert() failed: %v", err)
		}
		if a.ID == "" {
			t.Error("InsertAlert() should assign an ID")
		}
	}

	got, err := store.ListAlerts(0, false)
	if err != nil {
		t.Fatalf("ListAlerts() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListAlerts() returned %d alerts, want 3", len(got))
	}

	wantOrder := []string{"third", "second", "first"}
	for i, want := range wantOrder {
		if got[i].Description != want {
			t.Errorf("alert[%d] = %q, want %q", i, got[i].Description, want)
		}
	}
	if got[0].AffectedSystem != "disk_space" || got[0].RemediationSuggestion != "free space" {
		t.Errorf("optional fields not round-tripped: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(alerts[2].Timestamp) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, alerts[2].Timestamp)
	}

	limited, err := store.ListAlerts(1, false)
	if err != nil {
		t.Fatalf("ListAlerts(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListAlerts(1) returned %d alerts, want 1", len(limited))
	}
}

func TestResolveAlert(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	a := &Alert{Severity: SeverityHigh, Category: "system", Description: "disk"}
	b := &Alert{Severity: SeverityLow, Category: "system", Description: "memory"}
	for _, alert := range []*Alert{a, b} {
		if err := store.InsertAlert(alert); err != nil {
			t.Fatalf("InsertAlert() failed: %v", err)
		}
	}

	if err := store.ResolveAlert(a.ID); err != nil {
		t.Fatalf("ResolveAlert() failed: %v", err)
	}

	open, err := store.ListAlerts(0, true)
	if err != nil {
		t.Fatalf("ListAlerts() failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Errorf("unresolved alerts = %+v, want only %s", open, b.ID)
	}

	if err := store.ResolveAlert("does-not-exist"); err == nil {
		t.Error("ResolveAlert() should fail for an unknown ID")
	}
}

func TestHealthReports(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	now := time.Now()
	verdicts := []string{"HEALTHY", "WARNING", "CRITICAL"}
	for i, v := range verdicts {
		_, err := store.InsertHealthReport(&HealthReportRecord{
			Timestamp:        now.Add(time.Duration(i) * time.Minute),
			Verdict:          v,
			CriticalFailures: i,
			Warnings:         i,
			Summary:          v + " pass",
		})
		if err != nil {
			t.Fatalf("InsertHealthReport() failed: %v", err)
		}
	}

	got, err := store.ListHealthReports(2)
	if err != nil {
		t.Fatalf("ListHealthReports() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListHealthReports(2) returned %d, want 2", len(got))
	}
	if got[0].Verdict != "CRITICAL" || got[1].Verdict != "WARNING" {
		t.Errorf("unexpected order: %s, %s", got[0].Verdict, got[1].Verdict)
	}
	if got[0].Summary != "CRITICAL pass" {
		t.Errorf("Summary = %q", got[0].Summary)
	}
}

func TestRecoveryRuns(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	start := time.Now().Add(-time.Minute)
	runs := []*RecoveryRun{
		{PlanID: "disk_cleanup", Category: "disk_space_critical", StartedAt: start, FinishedAt: start.Add(time.Second), Success: true, StepsRun: 4},
		{PlanID: "file_restore", Category: "file_corruption", StartedAt: start, FinishedAt: start.Add(2 * time.Second),
			StepsRun: 2, FailedStep: "restore_from_backup", Error: "no checkpoint available"},
	}
	for _, r := range runs {
		id, err := store.InsertRecoveryRun(r)
		if err != nil {
			t.Fatalf("InsertRecoveryRun() failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("InsertRecoveryRun() id = %d, want positive", id)
		}
	}

	got, err := store.ListRecoveryRuns(10)
	if err != nil {
		t.Fatalf("ListRecoveryRuns() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecoveryRuns() returned %d, want 2", len(got))
	}

	failed := got[0]
	if failed.PlanID != "file_restore" || failed.Success {
		t.Errorf("newest run = %+v, want failed file_restore", failed)
	}
	if failed.FailedStep != "restore_from_backup" || failed.Error != "no checkpoint available" {
		t.Errorf("failure details not round-tripped: %+v", failed)
	}
	if !got[1].Success || got[1].FailedStep != "" {
		t.Errorf("successful run = %+v", got[1])
	}
}

func TestTimestampsRoundTripAtAnyPrecision(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ts   time.Time
	}{
		{name: "whole second", ts: base},
		{name: "trailing zero nanos", ts: base.Add(123456780 * time.Nanosecond)},
		{name: "millisecond", ts: base.Add(500 * time.Millisecond)},
		{name: "full nanos", ts: base.Add(123456789 * time.Nanosecond)},
		{name: "non-UTC zone", ts: base.In(time.FixedZone("CET", 3600))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			defer store.Close()

			if err := store.InsertAlert(&Alert{Timestamp: tt.ts, Severity: SeverityLow, Category: "test", Description: "x"}); err != nil {
				t.Fatalf("InsertAlert() failed: %v", err)
			}
			if _, err := store.InsertHealthReport(&HealthReportRecord{Timestamp: tt.ts, Verdict: "HEALTHY"}); err != nil {
				t.Fatalf("InsertHealthReport() failed: %v", err)
			}
			if _, err := store.InsertRecoveryRun(&RecoveryRun{PlanID: "p", Category: "c", StartedAt: tt.ts, FinishedAt: tt.ts}); err != nil {
				t.Fatalf("InsertRecoveryRun() failed: %v", err)
			}

			alerts, err := store.ListAlerts(0, false)
			if err != nil {
				t.Fatalf("ListAlerts() failed: %v", err)
			}
			if len(alerts) != 1 || !alerts[0].Timestamp.Equal(tt.ts) {
				t.Errorf("alert timestamp = %v, want %v", alerts, tt.ts)
			}

			reports, err := store.ListHealthReports(10)
			if err != nil {
				t.Fatalf("ListHealthReports() failed: %v", err)
			}
			if len(reports) != 1 || !reports[0].Timestamp.Equal(tt.ts) {
				t.Errorf("report timestamp = %v, want %v", reports, tt.ts)
			}

			runs, err := store.ListRecoveryRuns(10)
			if err != nil {
				t.Fatalf("ListRecoveryRuns() failed: %v", err)
			}
			if len(runs) != 1 || !runs[0].StartedAt.Equal(tt.ts) || !runs[0].FinishedAt.Equal(tt.ts) {
				t.Errorf("run timestamps = %v, want %v", runs, tt.ts)
			}
		})
	}
}

func TestListAlerts_MixedPrecisionKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{base, base.Add(12345678 * time.Nanosecond), base.Add(time.Second)} {
		a := &Alert{Timestamp: ts, Severity: SeverityLow, Category: "test", Description: string(rune('a' + i))}
		if err := store.InsertAlert(a); err != nil {
			t.Fatalf("InsertAlert() failed: %v", err)
		}
	}

	got, err := store.ListAlerts(0, false)
	if err != nil {
		t.Fatalf("ListAlerts() failed: %v", err)
	}
	var order []string
	for _, a := range got {
		order = append(order, a.Description)
	}
	if strings.Join(order, "") != "cba" {
		t.Errorf("order = %v, want [c b a]", order)
	}
}
