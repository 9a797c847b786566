// Package logging builds the categorized loggers used across failsafe.
//
// Every category writes to the console through tint and, when a log
// directory is configured, to its own JSON file (system.log, security.log,
// performance.log, alerts.log). Files are reopened after a checkpoint
// restore replaces the log directory.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Category names one of the log streams.
type Category string

const (
	System      Category = "system"
	Security    Category = "security"
	Performance Category = "performance"
	Alerts      Category = "alerts"
)

// Categories lists every log stream in file-creation order.
var Categories = []Category{System, Security, Performance, Alerts}

// Options configures a Sink.
type Options struct {
	// Dir receives one JSON log file per category. Empty disables files.
	Dir     string
	Level   slog.Level
	NoColor bool
	// Console defaults to os.Stderr. Use io.Discard to silence it.
	Console io.Writer
}

// Sink owns the per-category loggers and their files.
type Sink struct {
	mu      sync.Mutex
	dir     string
	files   map[Category]*reopenFile
	loggers map[Category]*slog.Logger
}

// New creates the category loggers, opening log files under opts.Dir.
func New(opts Options) (*Sink, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	noColor := opts.NoColor
	if f, ok := console.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		noColor = true
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	})

	s := &Sink{
		dir:     opts.Dir,
		files:   make(map[Category]*reopenFile),
		loggers: make(map[Category]*slog.Logger),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, c := range Categories {
		handlers := []slog.Handler{consoleHandler.WithAttrs([]slog.Attr{slog.String("category", string(c))})}

		if opts.Dir != "" {
			f, err := openReopenFile(filepath.Join(opts.Dir, string(c)+".log"))
			if err != nil {
				s.Close()
				return nil, err
			}
			s.files[c] = f
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: opts.Level}))
		}

		s.loggers[c] = slog.New(fanout(handlers))
	}

	return s, nil
}

// Discard returns a Sink that drops every record. Useful in tests.
func Discard() *Sink {
	s, _ := New(Options{Console: io.Discard, Level: slog.LevelError + 1})
	return s
}

// Logger returns the logger for a category.
func (s *Sink) Logger(c Category) *slog.Logger {
	if l, ok := s.loggers[c]; ok {
		return l
	}
	return s.loggers[System]
}

func (s *Sink) System() *slog.Logger      { return s.Logger(System) }
func (s *Sink) Security() *slog.Logger    { return s.Logger(Security) }
func (s *Sink) Performance() *slog.Logger { return s.Logger(Performance) }
func (s *Sink) Alert() *slog.Logger       { return s.Logger(Alerts) }

// Dir returns the log directory, or "" when file logging is off.
func (s *Sink) Dir() string {
	return s.dir
}

// Reopen closes and reopens every log file. Called after the log directory
// has been replaced underneath the running process.
func (s *Sink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	var errs []error
	for _, c := range Categories {
		if f, ok := s.files[c]; ok {
			if err := f.reopen(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every log file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range s.files {
		if err := f.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseLevel converts a config level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// reopenFile is an append-only file whose descriptor can be swapped while
// handlers keep writing through it.
type reopenFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenFile(path string) (*reopenFile, error) {
	r := &reopenFile{path: path}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *reopenFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	return r.f.Write(p)
}

func (r *reopenFile) reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", r.path, err)
	}
	if r.f != nil {
		r.f.Close()
	}
	r.f = f
	return nil
}

func (r *reopenFile) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func fanout(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
