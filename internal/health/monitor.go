package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/blackwell-systems/failsafe/internal/metrics"
)

// Options configures a Monitor.
type Options struct {
	// ProbeTimeout bounds every probe run. Defaults to 10s.
	ProbeTimeout time.Duration
	// HistorySize bounds the report history. Defaults to 100.
	HistorySize int
	Now         func() time.Time
	Logger      *slog.Logger
}

type registration struct {
	name                string
	check               Check
	critical            bool
	consecutiveFailures int
	lastSuccess         *time.Time
	lastResult          *Result
}

// Monitor is a registry of health probes.
type Monitor struct {
	mu      sync.RWMutex
	order   []string
	checks  map[string]*registration
	history []*Report

	// runMu serializes RunAll so counters advance one pass at a time.
	runMu sync.Mutex

	timeout     time.Duration
	historySize int
	now         func() time.Time
	log         *slog.Logger
}

// NewMonitor creates an empty Monitor.
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		checks:      make(map[string]*registration),
		timeout:     opts.ProbeTimeout,
		historySize: opts.HistorySize,
		now:         opts.Now,
		log:         opts.Logger,
	}
	if m.timeout <= 0 {
		m.timeout = 10 * time.Second
	}
	if m.historySize <= 0 {
		m.historySize = 100
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Register adds a probe. Registering an existing name replaces the probe in
// place and resets its counters.
func (m *Monitor) Register(name string, check Check, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checks[name]; !exists {
		m.order = append(m.order, name)
	}
	m.checks[name] = &registration{name: name, check: check, critical: critical}
}

// RunAll runs every probe in registration order and returns the report.
func (m *Monitor) RunAll(ctx context.Context) *Report {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.RLock()
	regs := make([]*registration, 0, len(m.order))
	for _, name := range m.order {
		regs = append(regs, m.checks[name])
	}
	m.mu.RUnlock()

	report := &Report{Timestamp: m.now()}

	for _, reg := range regs {
		start := time.Now()
		res := m.runOne(ctx, reg.check)
		elapsed := time.Since(start)

		metrics.ProbeRuns.WithLabelValues(reg.name, string(res.Status)).Inc()
		metrics.ProbeDuration.WithLabelValues(reg.name).Observe(elapsed.Seconds())

		m.mu.Lock()
		if res.Status.Failed() {
			reg.consecutiveFailures++
		} else {
			reg.consecutiveFailures = 0
			ts := m.now()
			reg.lastSuccess = &ts
		}
		r := res
		reg.lastResult = &r
		failures := reg.consecutiveFailures
		m.mu.Unlock()

		metrics.ConsecutiveFailures.WithLabelValues(reg.name).Set(float64(failures))

		report.Results = append(report.Results, ProbeResult{
			Name:                reg.name,
			Critical:            reg.critical,
			Result:              res,
			Duration:            elapsed,
			ConsecutiveFailures: failures,
		})

		if !res.Status.Failed() {
			continue
		}
		f := Failure{Name: reg.name, Status: res.Status, Message: res.Message}
		if reg.critical {
			report.CriticalFailures = append(report.CriticalFailures, f)
			m.log.Error("critical health check failed", "check", reg.name, "status", string(res.Status), "message", res.Message)
		} else {
			report.Warnings = append(report.Warnings, f)
			m.log.Warn("health check warning", "check", reg.name, "status", string(res.Status), "message", res.Message)
		}
	}

	report.Verdict = verdictFor(len(report.CriticalFailures), len(report.Warnings))
	verdicts := make([]string, len(Verdicts))
	for i, v := range Verdicts {
		verdicts[i] = string(v)
	}
	metrics.SetVerdict(string(report.Verdict), verdicts)

	m.mu.Lock()
	m.history = append(m.history, report)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append([]*Report(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	return report
}

// runOne runs a probe under the probe timeout. Panics and timeouts become
// ERROR results.
func (m *Monitor) runOne(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		var res Result
		if rec := panics.Try(func() { res = check.Run(ctx) }); rec != nil {
			res = errorResult("%v", rec.Value)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.Status == "" {
			return errorResult("probe returned no status")
		}
		return res
	case <-ctx.Done():
		return errorResult("%v after %s", ctx.Err(), m.timeout)
	}
}

// Registrations returns a copy of every probe's state in registration order.
func (m *Monitor) Registrations() []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Registration, 0, len(m.order))
	for _, name := range m.order {
		reg := m.checks[name]
		out = append(out, Registration{
			Name:                reg.name,
			Critical:            reg.critical,
			ConsecutiveFailures: reg.consecutiveFailures,
			LastSuccess:         reg.lastSuccess,
			LastResult:          reg.lastResult,
		})
	}
	return out
}

// History returns the retained reports, oldest first.
func (m *Monitor) History() []*Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Report(nil), m.history...)
}

// Latest returns the most recent report, or nil before the first pass.
func (m *Monitor) Latest() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1]
}
