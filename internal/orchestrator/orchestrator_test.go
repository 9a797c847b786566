package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/recovery"
	"github.com/blackwell-systems/failsafe/internal/store"
)

// fakeClock fires After channels only when Advance moves past their deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

func (c *fakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

type fakeMonitor struct {
	mu     sync.Mutex
	calls  int
	report func(call int) *health.Report
}

func (m *fakeMonitor) RunAll(ctx context.Context) *health.Report {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.report(call)
}

func (m *fakeMonitor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeExecutor struct {
	mu       sync.Mutex
	plans    []string
	triggers []health.Failure
	fail     bool
}

func (e *fakeExecutor) Execute(ctx context.Context, plan recovery.Plan) recovery.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans = append(e.plans, plan.ID)
	if f, ok := recovery.TriggerFrom(ctx); ok {
		e.triggers = append(e.triggers, f)
	}
	out := recovery.Outcome{PlanID: plan.ID, Category: plan.Category, Success: true, StepsRun: len(plan.Steps)}
	if e.fail {
		out.Success = false
		out.StepsRun = 1
		out.FailedStep = plan.Steps[0].Action
		out.Err = errors.New("step exploded")
	}
	return out
}

type fakeCheckpoints struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *fakeCheckpoints) Create(ctx context.Context) (*checkpoint.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.count++
	return &checkpoint.Checkpoint{ID: "checkpoint_1", Timestamp: time.Unix(1, 0)}, nil
}

func (c *fakeCheckpoints) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type fakeRecorder struct {
	mu      sync.Mutex
	alerts  []*store.Alert
	reports []*store.HealthReportRecord
	runs    []*store.RecoveryRun
}

func (r *fakeRecorder) InsertAlert(a *store.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *fakeRecorder) InsertHealthReport(rec *store.HealthReportRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rec)
	return int64(len(r.reports)), nil
}

func (r *fakeRecorder) InsertRecoveryRun(run *store.RecoveryRun) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), nil
}

func healthy() *health.Report {
	return &health.Report{Verdict: health.Healthy}
}

func critical(failures ...health.Failure) *health.Report {
	return &health.Report{Verdict: health.Critical, CriticalFailures: failures}
}

func failure(name, msg string) health.Failure {
	return health.Failure{Name: name, Status: health.StatusFail, Message: msg}
}

type fixture struct {
	orch  *Orchestrator
	mon   *fakeMonitor
	exec  *fakeExecutor
	cps   *fakeCheckpoints
	rec   *fakeRecorder
	clock *fakeClock
}

func newFixture(report func(call int) *health.Report) *fixture {
	f := &fixture{
		mon:   &fakeMonitor{report: report},
		exec:  &fakeExecutor{},
		cps:   &fakeCheckpoints{},
		rec:   &fakeRecorder{},
		clock: newFakeClock(),
	}
	f.orch = New(Deps{
		Monitor:     f.mon,
		Executor:    f.exec,
		Checkpoints: f.cps,
		Recorder:    f.rec,
	}, Options{
		Interval:           time.Minute,
		MaxInterval:        4 * time.Minute,
		ErrorBackoff:       2 * time.Minute,
		CheckpointInterval: time.Hour,
		Clock:              f.clock,
	})
	return f
}

func TestNew_Defaults(t *testing.T) {
	o := New(Deps{}, Options{})
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 60*time.Second, o.Interval())
	assert.Equal(t, 120*time.Second, o.opts.ErrorBackoff)
	assert.Equal(t, time.Hour, o.opts.CheckpointInterval)
	assert.NotNil(t, o.deps.Catalog)
}

func TestTick_HealthyRunsNoRecovery(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, report.Verdict)
	assert.Empty(t, f.exec.plans)
	require.Len(t, f.rec.reports, 1)
	assert.Equal(t, "HEALTHY", f.rec.reports[0].Verdict)
	assert.Equal(t, StateMonitoring, f.orch.State())
	assert.Same(t, report, f.orch.Status().LastReport)
}

func TestTick_WarningVerdictDoesNotRecover(t *testing.T) {
	f := newFixture(func(int) *health.Report {
		return &health.Report{Verdict: health.Warning, Warnings: []health.Failure{failure("disk_space", "Disk usage high")}}
	})

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.exec.plans)
}

func TestTick_CriticalFailureRunsMatchingPlan(t *testing.T) {
	disk := failure("disk_space", "Disk usage critical: 97.0%")
	f := newFixture(func(int) *health.Report { return critical(disk) })

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"disk_cleanup"}, f.exec.plans)
	assert.Equal(t, []health.Failure{disk}, f.exec.triggers)
	require.Len(t, f.rec.runs, 1)
	assert.Equal(t, "disk_cleanup", f.rec.runs[0].PlanID)
	assert.True(t, f.rec.runs[0].Success)
	assert.Empty(t, f.rec.alerts)

	outcomes := f.orch.Status().LastOutcomes
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
}

func TestTick_PlansRunInFailureOrderOncePerPass(t *testing.T) {
	f := newFixture(func(int) *health.Report {
		return critical(
			failure("memory_usage", "Memory usage critical: 99%"),
			failure("disk_space", "Disk usage critical: 97%"),
			failure("root_disk", "Disk usage critical: 99%"),
			failure("critical_files", "Critical files missing: [/etc/app.conf]"),
		)
	})

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"memory_cleanup", "disk_cleanup", "file_restore"}, f.exec.plans)
	assert.Len(t, f.rec.runs, 3)
}

func TestTick_UnclassifiedFailureRaisesAlert(t *testing.T) {
	f := newFixture(func(int) *health.Report {
		return critical(failure("storage_connectivity", "Database connectivity failed: locked"))
	})

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.exec.plans)
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, store.SeverityHigh, f.rec.alerts[0].Severity)
	assert.Equal(t, "storage_connectivity", f.rec.alerts[0].AffectedSystem)
	assert.Contains(t, f.rec.alerts[0].Description, "Unclassified critical failure")
}

func TestTick_FailedPlanRaisesCriticalAlert(t *testing.T) {
	f := newFixture(func(int) *health.Report {
		return critical(failure("memory_usage", "Memory usage critical: 99%"))
	})
	f.exec.fail = true

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, f.rec.runs, 1)
	assert.False(t, f.rec.runs[0].Success)
	assert.Equal(t, "garbage_collect", f.rec.runs[0].FailedStep)
	assert.Equal(t, "step exploded", f.rec.runs[0].Error)

	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, store.SeverityCritical, f.rec.alerts[0].Severity)
	assert.Contains(t, f.rec.alerts[0].Description, "memory_cleanup")
}

func TestTick_PanicBecomesError(t *testing.T) {
	f := newFixture(func(int) *health.Report { panic("probe registry corrupted") })

	report, err := f.orch.Tick(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "panicked")
}

func TestTick_NilReportIsError(t *testing.T) {
	f := newFixture(func(int) *health.Report { return nil })

	_, err := f.orch.Tick(context.Background())
	assert.Error(t, err)
}

func TestReduceFrequency(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })

	next, changed := f.orch.ReduceFrequency()
	assert.True(t, changed)
	assert.Equal(t, 2*time.Minute, next)

	next, changed = f.orch.ReduceFrequency()
	assert.True(t, changed)
	assert.Equal(t, 4*time.Minute, next)

	next, changed = f.orch.ReduceFrequency()
	assert.False(t, changed)
	assert.Equal(t, 4*time.Minute, next)

	// A healthy pass restores the configured interval.
	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, f.orch.Interval())
}

func TestCreateCheckpoint_FailureIsRecorded(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })
	f.cps.err = errors.New("disk full")

	f.orch.CreateCheckpoint(context.Background())

	st := f.orch.Status()
	assert.Equal(t, "disk full", st.LastCheckpointErr)
	assert.Empty(t, st.LastCheckpointID)
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, "checkpoint", f.rec.alerts[0].Category)

	f.cps.err = nil
	f.orch.CreateCheckpoint(context.Background())
	st = f.orch.Status()
	assert.Equal(t, "checkpoint_1", st.LastCheckpointID)
	assert.Empty(t, st.LastCheckpointErr)
}

func TestTrigger_NeverBlocks(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })
	for i := 0; i < 5; i++ {
		f.orch.Trigger()
	}
	assert.Len(t, f.orch.trigger, 1)
}

func startRun(t *testing.T, f *fixture) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancellation")
			return nil
		}
	}
}

func TestRun_SchedulesPassesAndCheckpoints(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })
	stop := startRun(t, f)

	// First pass is immediate; both loops then wait on the clock.
	require.Eventually(t, func() bool { return f.mon.Calls() == 1 && f.clock.Waiters() == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Zero(t, f.cps.Count())

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return f.mon.Calls() == 2 && f.clock.Waiters() == 2 },
		2*time.Second, 5*time.Millisecond)

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.cps.Count() == 1 && f.mon.Calls() == 3 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, StateStopped, f.orch.State())
}

func TestRun_TriggerWakesMonitor(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })
	stop := startRun(t, f)

	require.Eventually(t, func() bool { return f.mon.Calls() == 1 && f.clock.Waiters() == 2 },
		2*time.Second, 5*time.Millisecond)

	f.orch.Trigger()
	require.Eventually(t, func() bool { return f.mon.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
}

func TestRun_ErrorUsesBackoff(t *testing.T) {
	f := newFixture(func(call int) *health.Report {
		if call == 1 {
			panic("first pass fails")
		}
		return healthy()
	})
	stop := startRun(t, f)

	require.Eventually(t, func() bool { return f.mon.Calls() == 1 && f.clock.Waiters() == 2 },
		2*time.Second, 5*time.Millisecond)

	// The regular interval is not enough after a failed pass.
	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.mon.Calls())

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return f.mon.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
}

func TestRun_CheckpointOnStart(t *testing.T) {
	f := newFixture(func(int) *health.Report { return healthy() })
	f.orch.opts.CheckpointOnStart = true
	stop := startRun(t, f)

	require.Eventually(t, func() bool { return f.cps.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
}
