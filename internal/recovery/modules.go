package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Module is a supervised component that recovery can restart.
type Module interface {
	Name() string
	Critical() bool
	Restart(ctx context.Context) error
}

// CommandModule restarts an external component by running a command.
type CommandModule struct {
	name     string
	critical bool
	command  []string
	timeout  time.Duration
}

// NewCommandModule creates a module restarted by command. An empty command
// makes Restart a no-op.
func NewCommandModule(name string, critical bool, command []string, timeout time.Duration) *CommandModule {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandModule{name: name, critical: critical, command: command, timeout: timeout}
}

func (m *CommandModule) Name() string   { return m.name }
func (m *CommandModule) Critical() bool { return m.critical }

func (m *CommandModule) Restart(ctx context.Context) error {
	if len(m.command) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.command[0], m.command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("restart of %s timed out after %s", m.name, m.timeout)
		}
		return fmt.Errorf("restart of %s failed: %w: %s", m.name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Modules is the registry of restartable modules.
type Modules struct {
	mu   sync.RWMutex
	list []Module
	log  *slog.Logger
}

// NewModules creates an empty registry.
func NewModules(log *slog.Logger) *Modules {
	if log == nil {
		log = slog.Default()
	}
	return &Modules{log: log}
}

// Add registers a module. A module with the same name is replaced.
func (r *Modules) Add(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.list {
		if existing.Name() == m.Name() {
			r.list[i] = m
			return
		}
	}
	r.list = append(r.list, m)
}

// List returns the registered modules in registration order.
func (r *Modules) List() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.list...)
}

// RestartNonCritical restarts every non-critical module.
func (r *Modules) RestartNonCritical(ctx context.Context) error {
	return r.restart(ctx, func(m Module) bool { return !m.Critical() })
}

// RestartAll restarts every module, critical ones included.
func (r *Modules) RestartAll(ctx context.Context) error {
	return r.restart(ctx, func(Module) bool { return true })
}

// restart attempts every selected module and joins the failures.
func (r *Modules) restart(ctx context.Context, include func(Module) bool) error {
	var errs []error
	for _, m := range r.List() {
		if !include(m) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Restart(ctx); err != nil {
			r.log.Error("module restart failed", "module", m.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		r.log.Info("module restarted", "module", m.Name())
	}
	return errors.Join(errs...)
}
