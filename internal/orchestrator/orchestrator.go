// Package orchestrator runs the monitoring and recovery control loop and the
// periodic checkpoint timer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/logging"
	"github.com/blackwell-systems/failsafe/internal/metrics"
	"github.com/blackwell-systems/failsafe/internal/recovery"
	"github.com/blackwell-systems/failsafe/internal/store"
)

// State is the orchestrator's position in its control loop.
type State string

const (
	StateIdle       State = "IDLE"
	StateMonitoring State = "MONITORING"
	StatePlanning   State = "PLANNING"
	StateExecuting  State = "EXECUTING"
	StateStopped    State = "STOPPED"
)

// HealthRunner runs one monitoring pass.
type HealthRunner interface {
	RunAll(ctx context.Context) *health.Report
}

// PlanExecutor runs a recovery plan.
type PlanExecutor interface {
	Execute(ctx context.Context, plan recovery.Plan) recovery.Outcome
}

// Checkpointer creates checkpoints.
type Checkpointer interface {
	Create(ctx context.Context) (*checkpoint.Checkpoint, error)
}

// Recorder persists alerts and the audit trail.
type Recorder interface {
	InsertAlert(alert *store.Alert) error
	InsertHealthReport(rec *store.HealthReportRecord) (int64, error)
	InsertRecoveryRun(run *store.RecoveryRun) (int64, error)
}

// Deps are the components the orchestrator drives.
type Deps struct {
	Monitor     HealthRunner
	Catalog     *recovery.Catalog
	Executor    PlanExecutor
	Checkpoints Checkpointer
	Recorder    Recorder // optional
}

// Options configures loop timing.
type Options struct {
	Interval           time.Duration
	MaxInterval        time.Duration
	ErrorBackoff       time.Duration
	CheckpointInterval time.Duration
	CheckpointOnStart  bool
	Clock              Clock
	Sink               *logging.Sink
}

// Status is a snapshot of the orchestrator for status queries.
type Status struct {
	State             State
	Interval          time.Duration
	LastReport        *health.Report
	LastOutcomes      []recovery.Outcome
	LastCheckpointID  string
	LastCheckpointAt  time.Time
	LastCheckpointErr string
}

// Orchestrator ties monitoring, classification, planning and execution
// together on a schedule.
type Orchestrator struct {
	deps Deps
	opts Options
	sink *logging.Sink

	mu           sync.Mutex
	state        State
	interval     time.Duration
	lastReport   *health.Report
	lastOutcomes []recovery.Outcome
	lastCPID     string
	lastCPAt     time.Time
	lastCPErr    string

	trigger chan struct{}
}

// New creates an Orchestrator in the IDLE state.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * opts.Interval
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Sink == nil {
		opts.Sink = logging.Discard()
	}
	if deps.Catalog == nil {
		deps.Catalog = recovery.DefaultCatalog()
	}

	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		sink:     opts.Sink,
		state:    StateIdle,
		interval: opts.Interval,
		trigger:  make(chan struct{}, 1),
	}
	metrics.MonitorInterval.Set(opts.Interval.Seconds())
	return o
}

// Run starts the monitoring loop and the checkpoint timer and blocks until
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := o.sink.System()
	log.Info("auto-recovery started",
		"interval", o.Interval(),
		"checkpoint_interval", o.opts.CheckpointInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.monitorLoop(gctx) })
	g.Go(func() error { return o.checkpointLoop(gctx) })
	err := g.Wait()

	o.setState(StateStopped)
	log.Info("auto-recovery stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) monitorLoop(ctx context.Context) error {
	for {
		wait := o.Interval()
		if _, err := o.Tick(ctx); err != nil {
			o.sink.System().Error("recovery loop error", "error", err, "backoff", o.opts.ErrorBackoff)
			wait = o.opts.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.opts.Clock.After(wait):
		case <-o.trigger:
			o.sink.System().Debug("early monitoring pass requested")
		}
	}
}

func (o *Orchestrator) checkpointLoop(ctx context.Context) error {
	if o.opts.CheckpointOnStart {
		o.CreateCheckpoint(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.opts.Clock.After(o.opts.CheckpointInterval):
		}
		o.CreateCheckpoint(ctx)
	}
}

// Trigger requests an early monitoring pass. It never blocks.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Tick runs one monitoring pass and any recovery it calls for. A panic
// anywhere in the pass is returned as an error.
func (o *Orchestrator) Tick(ctx context.Context) (report *health.Report, err error) {
	rec := panics.Try(func() { report, err = o.tick(ctx) })
	if rec != nil {
		err = fmt.Errorf("monitoring pass panicked: %w", rec.AsError())
	}
	if err != nil {
		o.setState(StateMonitoring)
	}
	return report, err
}

func (o *Orchestrator) tick(ctx context.Context) (*health.Report, error) {
	o.setState(StateMonitoring)

	report := o.deps.Monitor.RunAll(ctx)
	if report == nil {
		return nil, errors.New("health monitor returned no report")
	}
	o.recordReport(report)

	if report.Verdict == health.Healthy {
		o.resetFrequency()
	}

	var outcomes []recovery.Outcome
	if report.Verdict.NeedsRecovery() {
		outcomes = o.recover(ctx, report)
	}

	o.mu.Lock()
	o.lastReport = report
	if outcomes != nil {
		o.lastOutcomes = outcomes
	}
	o.mu.Unlock()

	o.setState(StateMonitoring)
	return report, nil
}

// recover classifies each critical failure and runs its plan. A plan runs at
// most once per pass even when several failures map to it.
func (o *Orchestrator) recover(ctx context.Context, report *health.Report) []recovery.Outcome {
	var outcomes []recovery.Outcome
	ran := make(map[string]bool)

	for _, f := range report.CriticalFailures {
		if ctx.Err() != nil {
			break
		}

		o.setState(StatePlanning)
		category := recovery.Classify(f)
		plan, ok := o.deps.Catalog.Lookup(category)
		if !ok {
			o.sink.Alert().Error("unclassified critical failure, no automatic action", "check", f.Name, "message", f.Message)
			o.alert(store.SeverityHigh, "health",
				fmt.Sprintf("Unclassified critical failure in %s: %s", f.Name, f.Message),
				f.Name, "Investigate manually; no recovery plan matches this failure")
			continue
		}
		if ran[plan.ID] {
			continue
		}
		ran[plan.ID] = true

		o.sink.System().Warn("executing recovery plan", "plan", plan.ID, "category", string(category), "check", f.Name)
		o.setState(StateExecuting)
		out := o.deps.Executor.Execute(recovery.WithTrigger(ctx, f), plan)
		outcomes = append(outcomes, out)
		o.recordOutcome(out)

		switch {
		case out.Skipped:
			o.sink.System().Info("recovery plan deferred to next pass", "plan", plan.ID)
		case out.Success:
			o.sink.System().Info("recovery plan completed successfully", "plan", plan.ID)
		default:
			o.sink.System().Error("recovery plan failed", "plan", plan.ID, "failed_step", string(out.FailedStep), "error", out.Err)
			o.alert(store.SeverityCritical, "recovery",
				fmt.Sprintf("Recovery plan %s failed at step %s: %v", plan.ID, out.FailedStep, out.Err),
				f.Name, "Manual intervention required; consider restoring a checkpoint")
		}
	}
	return outcomes
}

// CreateCheckpoint creates a checkpoint, logging and alerting on failure.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context) {
	var cp *checkpoint.Checkpoint
	var err error
	if rec := panics.Try(func() { cp, err = o.deps.Checkpoints.Create(ctx) }); rec != nil {
		err = fmt.Errorf("checkpoint creation panicked: %w", rec.AsError())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.lastCPErr = err.Error()
		o.sink.System().Error("checkpoint creation failed", "error", err)
		o.alertLocked(store.SeverityMedium, "checkpoint", "Checkpoint creation failed: "+err.Error(),
			"checkpoint_store", "Check free space and permissions of the checkpoint directory")
		return
	}
	o.lastCPID = cp.ID
	o.lastCPAt = cp.Timestamp
	o.lastCPErr = ""
}

// ReduceFrequency doubles the monitoring interval up to MaxInterval.
func (o *Orchestrator) ReduceFrequency() (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.interval * 2
	if next > o.opts.MaxInterval {
		next = o.opts.MaxInterval
	}
	changed := next != o.interval
	o.interval = next
	metrics.MonitorInterval.Set(next.Seconds())
	return next, changed
}

func (o *Orchestrator) resetFrequency() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.interval != o.opts.Interval {
		o.sink.Performance().Info("monitoring frequency restored", "interval", o.opts.Interval)
		o.interval = o.opts.Interval
		metrics.MonitorInterval.Set(o.interval.Seconds())
	}
}

// Interval returns the current monitoring interval.
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interval
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot for status queries.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:             o.state,
		Interval:          o.interval,
		LastReport:        o.lastReport,
		LastOutcomes:      append([]recovery.Outcome(nil), o.lastOutcomes...),
		LastCheckpointID:  o.lastCPID,
		LastCheckpointAt:  o.lastCPAt,
		LastCheckpointErr: o.lastCPErr,
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateStopped {
		return
	}
	o.state = s
}

func (o *Orchestrator) recordReport(r *health.Report) {
	if o.deps.Recorder == nil {
		return
	}
	_, err := o.deps.Recorder.InsertHealthReport(&store.HealthReportRecord{
		Timestamp:        r.Timestamp,
		Verdict:          string(r.Verdict),
		CriticalFailures: len(r.CriticalFailures),
		Warnings:         len(r.Warnings),
		Summary:          r.Summary(),
	})
	if err != nil {
		o.sink.System().Warn("failed to record health report", "error", err)
	}
}

func (o *Orchestrator) recordOutcome(out recovery.Outcome) {
	if o.deps.Recorder == nil || out.Skipped {
		return
	}
	run := &store.RecoveryRun{
		PlanID:     out.PlanID,
		Category:   string(out.Category),
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
		Success:    out.Success,
		StepsRun:   out.StepsRun,
		FailedStep: string(out.FailedStep),
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if _, err := o.deps.Recorder.InsertRecoveryRun(run); err != nil {
		o.sink.System().Warn("failed to record recovery run", "error", err)
	}
}

func (o *Orchestrator) alert(severity, category, description, affected, remediation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alertLocked(severity, category, description, affected, remediation)
}

func (o *Orchestrator) alertLocked(severity, category, description, affected, remediation string) {
	if o.deps.Recorder == nil {
		return
	}
	err := o.deps.Recorder.InsertAlert(&store.Alert{
		Timestamp:             o.opts.Clock.Now(),
		Severity:              severity,
		Category:              category,
		Description:           description,
		AffectedSystem:        affected,
		RemediationSuggestion: remediation,
	})
	if err != nil {
		o.sink.System().Warn("failed to record alert", "error", err)
	}
}
