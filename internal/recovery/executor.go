package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/metrics"
)

var (
	// ErrUnknownAction is returned for a step with no registered handler.
	ErrUnknownAction = errors.New("unknown recovery action")

	// ErrNoCheckpoint is returned by restore-type steps when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint available")
)

// Handler performs one remediation action.
type Handler func(ctx context.Context) error

// Outcome is the result of executing a plan.
type Outcome struct {
	PlanID     string
	Category   Category
	Success    bool
	Skipped    bool // another plan was already running
	StepsRun   int  // steps attempted, including the failing one
	FailedStep Action
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// StepPause is the pause between consecutive steps.
	StepPause time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger *slog.Logger
}

// StepFunc observes a step just before it runs. n counts from 1.
type StepFunc func(plan Plan, n int, step Step)

// Executor runs recovery plans one at a time.
type Executor struct {
	running sync.Mutex

	mu       sync.RWMutex
	handlers map[Action]Handler
	onStep   StepFunc

	pause time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	log   *slog.Logger
}

// NewExecutor creates an Executor with the given action handlers.
func NewExecutor(handlers map[Action]Handler, opts ExecutorOptions) *Executor {
	e := &Executor{
		handlers: make(map[Action]Handler, len(handlers)),
		pause:    opts.StepPause,
		sleep:    opts.Sleep,
		now:      opts.Now,
		log:      opts.Logger,
	}
	for a, h := range handlers {
		e.handlers[a] = h
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Handle registers or replaces the handler for an action.
func (e *Executor) Handle(a Action, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[a] = h
}

// OnStep sets fn to be called before every step. A nil fn clears it.
func (e *Executor) OnStep(fn StepFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStep = fn
}

// Execute runs the plan's steps in order. The first failing step aborts the
// rest. If another plan is executing, Execute returns immediately with
// Skipped set.
func (e *Executor) Execute(ctx context.Context, plan Plan) Outcome {
	out := Outcome{PlanID: plan.ID, Category: plan.Category, StartedAt: e.now()}

	if !e.running.TryLock() {
		out.Skipped = true
		out.FinishedAt = out.StartedAt
		metrics.RecoveryPlans.WithLabelValues(plan.ID, "skipped").Inc()
		e.log.Warn("recovery plan skipped, another plan is running", "plan", plan.ID)
		return out
	}
	defer e.running.Unlock()

	e.log.Info("executing recovery plan", "plan", plan.ID, "category", string(plan.Category), "steps", len(plan.Steps))

	for i, step := range plan.Steps {
		if i > 0 && e.pause > 0 {
			if err := e.sleep(ctx, e.pause); err != nil {
				out.Err = err
				break
			}
		}

		out.StepsRun++
		e.mu.RLock()
		onStep := e.onStep
		e.mu.RUnlock()
		if onStep != nil {
			onStep(plan, i+1, step)
		}
		e.log.Info("executing recovery step", "plan", plan.ID, "action", string(step.Action), "description", step.Description)

		start := time.Now()
		err := e.runStep(ctx, step.Action)
		metrics.RecoveryStepDuration.WithLabelValues(string(step.Action)).Observe(time.Since(start).Seconds())

		if err != nil {
			out.FailedStep = step.Action
			out.Err = err
			e.log.Error("recovery step failed", "plan", plan.ID, "action", string(step.Action), "description", step.Description, "error", err)
			break
		}
	}

	out.Success = out.Err == nil
	out.FinishedAt = e.now()

	if out.Success {
		metrics.RecoveryPlans.WithLabelValues(plan.ID, "success").Inc()
		e.log.Info("recovery plan completed", "plan", plan.ID, "duration", out.FinishedAt.Sub(out.StartedAt))
	} else {
		metrics.RecoveryPlans.WithLabelValues(plan.ID, "failed").Inc()
		e.log.Error("recovery plan failed", "plan", plan.ID, "steps_run", out.StepsRun, "error", out.Err)
	}
	return out
}

func (e *Executor) runStep(ctx context.Context, a Action) error {
	e.mu.RLock()
	h, ok := e.handlers[a]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, a)
	}

	var err error
	if rec := panics.Try(func() { err = h(ctx) }); rec != nil {
		return fmt.Errorf("action %s panicked: %w", a, rec.AsError())
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type triggerKey struct{}

// WithTrigger attaches the failure that caused a plan to run.
func WithTrigger(ctx context.Context, f health.Failure) context.Context {
	return context.WithValue(ctx, triggerKey{}, f)
}

// TriggerFrom returns the failure attached by WithTrigger.
func TriggerFrom(ctx context.Context) (health.Failure, bool) {
	f, ok := ctx.Value(triggerKey{}).(health.Failure)
	return f, ok
}
