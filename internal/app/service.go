package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/config"
	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/logging"
	"github.com/blackwell-systems/failsafe/internal/orchestrator"
	"github.com/blackwell-systems/failsafe/internal/recovery"
	"github.com/blackwell-systems/failsafe/internal/server"
	"github.com/blackwell-systems/failsafe/internal/store"
	"github.com/blackwell-systems/failsafe/internal/sysinfo"
	"github.com/blackwell-systems/failsafe/internal/watcher"
)

// Service is the fully wired daemon.
type Service struct {
	Config       *config.Config
	Sink         *logging.Sink
	Store        *store.Store
	Checkpoints  *checkpoint.Manager
	Monitor      *health.Monitor
	Modules      *recovery.Modules
	Actions      *recovery.Actions
	Executor     *recovery.Executor
	Orchestrator *orchestrator.Orchestrator

	// Optional components, nil when disabled in the config.
	Watcher *watcher.Watcher
	Server  *server.Server
}

// newSink creates the category logger for cfg. A nil console defaults to stderr.
func newSink(cfg *config.Config, console io.Writer) (*logging.Sink, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Dir:     cfg.Paths.LogDir,
		Level:   level,
		NoColor: cfg.Logging.NoColor,
		Console: console,
	})
}

// newCheckpointManager creates the checkpoint manager for cfg.
func newCheckpointManager(cfg *config.Config, sink *logging.Sink) *checkpoint.Manager {
	refs := make([]checkpoint.ModuleRef, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		if m.Path != "" {
			refs = append(refs, checkpoint.ModuleRef{Name: m.Name, Path: m.Path})
		}
	}

	return checkpoint.New(checkpoint.Options{
		Dir:           cfg.Paths.CheckpointDir,
		ConfigPath:    cfg.Paths.SystemConfig,
		DatabasePath:  cfg.Paths.Database,
		LogDir:        cfg.Paths.LogDir,
		CriticalFiles: cfg.CriticalFiles,
		Modules:       refs,
		MaxKept:       cfg.Checkpoint.MaxKept,
		AfterRestore:  sink.Reopen,
		Logger:        sink.System(),
	})
}

// newMonitor creates a health monitor with the built-in probes registered.
func newMonitor(cfg *config.Config, sink *logging.Sink) *health.Monitor {
	m := health.NewMonitor(health.Options{
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		HistorySize:  cfg.Monitor.HistorySize,
		Logger:       sink.Performance(),
	})

	t := cfg.Thresholds
	m.Register(health.DiskSpaceName, &health.DiskSpace{Path: t.DiskPath, Warn: t.DiskWarn, Fail: t.DiskFail}, true)
	m.Register(health.MemoryUsageName, &health.MemoryUsage{Warn: t.MemoryWarn, Fail: t.MemoryFail}, true)
	m.Register(health.CriticalFilesName, &health.CriticalFiles{Paths: cfg.CriticalFiles}, true)
	m.Register(health.StorageConnectivityName, &health.StorageConnectivity{Path: cfg.Paths.Database, MinTables: t.MinTableCount}, true)
	return m
}

// newModules creates the module registry from the configured restart commands.
func newModules(cfg *config.Config, sink *logging.Sink) *recovery.Modules {
	mods := recovery.NewModules(sink.System())
	for _, m := range cfg.Modules {
		if len(m.RestartCommand) == 0 {
			continue
		}
		mods.Add(recovery.NewCommandModule(m.Name, m.Critical, m.RestartCommand, m.RestartTimeout))
	}
	return mods
}

// NewService wires every component for cfg. Console receives the
// human-readable log stream and defaults to stderr.
func NewService(cfg *config.Config, console io.Writer) (*Service, error) {
	sink, err := newSink(cfg, console)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	st, err := store.New(cfg.Paths.Database)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		sink.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	s := &Service{
		Config:      cfg,
		Sink:        sink,
		Store:       st,
		Checkpoints: newCheckpointManager(cfg, sink),
		Monitor:     newMonitor(cfg, sink),
		Modules:     newModules(cfg, sink),
	}

	s.Actions = &recovery.Actions{
		LogDir:      cfg.Paths.LogDir,
		MaxLogAge:   cfg.Cleanup.MaxLogAge,
		MinLogSize:  cfg.Cleanup.MinLogSize,
		Checkpoints: s.Checkpoints,
		Alerts:      st,
		Modules:     s.Modules,
		Sink:        sink,
	}

	s.Executor = recovery.NewExecutor(s.Actions.Handlers(), recovery.ExecutorOptions{
		StepPause: cfg.Monitor.StepPause,
		Logger:    sink.System(),
	})

	s.Orchestrator = orchestrator.New(orchestrator.Deps{
		Monitor:     s.Monitor,
		Catalog:     recovery.DefaultCatalog(),
		Executor:    s.Executor,
		Checkpoints: s.Checkpoints,
		Recorder:    st,
	}, orchestrator.Options{
		Interval:           cfg.Monitor.Interval,
		MaxInterval:        cfg.Monitor.MaxInterval,
		ErrorBackoff:       cfg.Monitor.ErrorBackoff,
		CheckpointInterval: cfg.Checkpoint.Interval,
		CheckpointOnStart:  cfg.Checkpoint.OnStart,
		Sink:               sink,
	})
	s.Actions.Throttle = s.Orchestrator

	if cfg.Monitor.WatchFiles {
		s.Watcher = watcher.New(watchedFiles(cfg), func(paths []string) {
			s.Orchestrator.Trigger()
		}, watcher.Options{Logger: sink.Security()})
		s.Modules.Add(s.Watcher)
	}

	if cfg.Server.Addr != "" {
		s.Server = server.New(cfg.Server.Addr, s.Orchestrator, sink.System())
		s.Server.SetVitals(func(ctx context.Context) (*sysinfo.Vitals, error) {
			return readVitals(ctx, cfg)
		})
	}

	return s, nil
}

// readVitals reads host vitals for the configured disk and processes.
func readVitals(ctx context.Context, cfg *config.Config) (*sysinfo.Vitals, error) {
	return sysinfo.ReadVitals(ctx, sysinfo.VitalsOptions{
		DiskPath:     cfg.Thresholds.DiskPath,
		ProcessNames: cfg.CriticalProcesses,
	})
}

// watchedFiles returns the critical files the watcher reacts to. The live
// database and anything under the log directory change on every monitoring
// pass, so watching them would make each pass trigger the next.
func watchedFiles(cfg *config.Config) []string {
	db := filepath.Clean(cfg.Paths.Database)
	logDir := filepath.Clean(cfg.Paths.LogDir)

	var out []string
	for _, f := range cfg.CriticalFiles {
		f = filepath.Clean(f)
		if f == db || f == db+"-journal" {
			continue
		}
		if rel, err := filepath.Rel(logDir, f); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. SIGHUP reopens the log files.
func (s *Service) Run(ctx context.Context) error {
	if s.Watcher != nil {
		if err := s.Watcher.Start(); err != nil {
			s.Sink.System().Warn("file watcher disabled", "error", err)
		} else {
			defer s.Watcher.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Orchestrator.Run(gctx) })

	if s.Server != nil {
		g.Go(func() error {
			if err := s.Server.Run(gctx); err != nil {
				return fmt.Errorf("status server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.reopenOnHangup(gctx)
		return nil
	})

	return g.Wait()
}

func (s *Service) reopenOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := s.Sink.Reopen(); err != nil {
				s.Sink.System().Error("failed to reopen log files", "error", err)
				continue
			}
			s.Sink.System().Info("log files reopened")
		}
	}
}

// Close releases the database and log files.
func (s *Service) Close() error {
	err := s.Store.Close()
	if cerr := s.Sink.Close(); err == nil {
		err = cerr
	}
	return err
}

// commandContext returns the command's context, or a background context for
// direct calls in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
