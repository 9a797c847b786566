package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/blackwell-systems/failsafe/internal/checkpoint"
	"github.com/blackwell-systems/failsafe/internal/logging"
	"github.com/blackwell-systems/failsafe/internal/store"
)

// CheckpointStore is the part of checkpoint.Manager used by recovery steps.
type CheckpointStore interface {
	Latest() (*checkpoint.Checkpoint, error)
	Restore(ctx context.Context, id string) (*checkpoint.RestoreResult, error)
	Verify(ctx context.Context, id string) ([]checkpoint.Discrepancy, error)
	Prune(maxKept int) ([]string, error)
	MaxKept() int
}

// AlertStore persists alerts.
type AlertStore interface {
	InsertAlert(alert *store.Alert) error
}

// Throttler lowers the monitoring frequency. It returns the new interval
// and false when the interval is already at its ceiling.
type Throttler interface {
	ReduceFrequency() (time.Duration, bool)
}

// Actions implements the built-in step handlers.
type Actions struct {
	LogDir     string
	MaxLogAge  time.Duration
	MinLogSize int64

	Checkpoints CheckpointStore
	Alerts      AlertStore
	Modules     *Modules
	Throttle    Throttler
	Sink        *logging.Sink
	Now         func() time.Time

	mu       sync.Mutex
	suspects []checkpoint.Discrepancy
}

// Handlers returns the handler table for every built-in action.
func (a *Actions) Handlers() map[Action]Handler {
	return map[Action]Handler{
		ActionCleanupLogs:       a.cleanupLogs,
		ActionCleanupBackups:    a.cleanupBackups,
		ActionCompressData:      a.compressData,
		ActionGarbageCollect:    a.garbageCollect,
		ActionRestartModules:    a.restartModules,
		ActionReduceMonitoring:  a.reduceMonitoring,
		ActionIdentifyCorrupted: a.identifyCorrupted,
		ActionRestoreFromBackup: a.restoreFromBackup,
		ActionVerifyIntegrity:   a.verifyIntegrity,
		ActionRestartSystem:     a.restartSystem,
		ActionAlertAdmin:        a.alertAdmin,
	}
}

func (a *Actions) sink() *logging.Sink {
	if a.Sink == nil {
		a.Sink = logging.Discard()
	}
	return a.Sink
}

func (a *Actions) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Suspects returns the discrepancies found by the last identify_corrupted step.
func (a *Actions) Suspects() []checkpoint.Discrepancy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]checkpoint.Discrepancy(nil), a.suspects...)
}

// oldLogs returns the top-level *.log files last modified before the cutoff.
func (a *Actions) oldLogs() ([]os.FileInfo, error) {
	if a.LogDir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(a.LogDir, "*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	cutoff := a.now().Add(-a.MaxLogAge)
	var old []os.FileInfo
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			old = append(old, info)
		}
	}
	return old, nil
}

// cleanupLogs deletes log files that are both older than MaxLogAge and
// larger than MinLogSize.
func (a *Actions) cleanupLogs(ctx context.Context) error {
	old, err := a.oldLogs()
	if err != nil {
		return err
	}

	var freed uint64
	removed := 0
	for _, info := range old {
		if info.Size() <= a.MinLogSize {
			continue
		}
		path := filepath.Join(a.LogDir, info.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		freed += uint64(info.Size())
		removed++
	}

	if removed > 0 {
		if err := a.sink().Reopen(); err != nil {
			a.sink().System().Warn("failed to reopen log files", "error", err)
		}
	}
	a.sink().System().Info("old logs cleaned up", "removed", removed, "freed", humanize.IBytes(freed))
	return nil
}

func (a *Actions) cleanupBackups(ctx context.Context) error {
	if a.Checkpoints == nil {
		return nil
	}
	removed, err := a.Checkpoints.Prune(a.Checkpoints.MaxKept())
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	a.sink().System().Info("old backups cleaned up", "removed", len(removed))
	return nil
}

// compressData gzips every log file older than MaxLogAge in place.
func (a *Actions) compressData(ctx context.Context) error {
	old, err := a.oldLogs()
	if err != nil {
		return err
	}

	var saved int64
	compressed := 0
	for _, info := range old {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(a.LogDir, info.Name())
		size, err := gzipFile(path, info.ModTime())
		if err != nil {
			return err
		}
		saved += info.Size() - size
		compressed++
	}

	if compressed > 0 {
		if err := a.sink().Reopen(); err != nil {
			a.sink().System().Warn("failed to reopen log files", "error", err)
		}
	}
	a.sink().System().Info("data files compressed", "files", compressed, "saved", humanize.IBytes(uint64(max(saved, 0))))
	return nil
}

// gzipFile replaces path with path.gz and returns the compressed size.
func gzipFile(path string, mtime time.Time) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	dst := path + ".gz"
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	gz.ModTime = mtime
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	_ = os.Chtimes(dst, mtime, mtime)
	if err := os.Remove(path); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (a *Actions) garbageCollect(ctx context.Context) error {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	a.sink().Performance().Info("forced garbage collection",
		"heap_before", humanize.IBytes(before.HeapAlloc),
		"heap_after", humanize.IBytes(after.HeapAlloc),
	)
	return nil
}

func (a *Actions) restartModules(ctx context.Context) error {
	if a.Modules == nil {
		return nil
	}
	return a.Modules.RestartNonCritical(ctx)
}

func (a *Actions) restartSystem(ctx context.Context) error {
	if a.Modules == nil {
		return nil
	}
	return a.Modules.RestartAll(ctx)
}

func (a *Actions) reduceMonitoring(ctx context.Context) error {
	if a.Throttle == nil {
		return nil
	}
	interval, changed := a.Throttle.ReduceFrequency()
	if changed {
		a.sink().Performance().Info("monitoring frequency reduced", "interval", interval)
	} else {
		a.sink().Performance().Info("monitoring frequency already at minimum", "interval", interval)
	}
	return nil
}

func (a *Actions) latest() (*checkpoint.Checkpoint, error) {
	if a.Checkpoints == nil {
		return nil, ErrNoCheckpoint
	}
	cp, err := a.Checkpoints.Latest()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, ErrNoCheckpoint
	}
	return cp, err
}

// identifyCorrupted records which critical files differ from the latest
// checkpoint. Finding some is not a failure.
func (a *Actions) identifyCorrupted(ctx context.Context) error {
	cp, err := a.latest()
	if err != nil {
		return err
	}

	found, err := a.Checkpoints.Verify(ctx, cp.ID)
	if err != nil {
		return fmt.Errorf("failed to verify against %s: %w", cp.ID, err)
	}

	a.mu.Lock()
	a.suspects = found
	a.mu.Unlock()

	for _, d := range found {
		a.sink().Security().Warn("corrupted or missing file", "path", d.Path, "kind", string(d.Kind), "checkpoint", cp.ID)
	}
	a.sink().Security().Info("corruption scan complete", "checkpoint", cp.ID, "suspects", len(found))
	return nil
}

func (a *Actions) restoreFromBackup(ctx context.Context) error {
	cp, err := a.latest()
	if err != nil {
		return err
	}

	res, err := a.Checkpoints.Restore(ctx, cp.ID)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", cp.ID, err)
	}

	a.sink().Security().Warn("system restored from checkpoint",
		"checkpoint", cp.ID,
		"config", res.ConfigRestored,
		"database", res.DatabaseRestored,
		"logs", res.LogsRestored,
		"discrepancies", len(res.Discrepancies),
	)
	return nil
}

func (a *Actions) verifyIntegrity(ctx context.Context) error {
	cp, err := a.latest()
	if err != nil {
		return err
	}

	found, err := a.Checkpoints.Verify(ctx, cp.ID)
	if err != nil {
		return fmt.Errorf("failed to verify against %s: %w", cp.ID, err)
	}
	if len(found) > 0 {
		names := make([]string, len(found))
		for i, d := range found {
			names[i] = d.String()
		}
		return fmt.Errorf("integrity verification failed: %s", strings.Join(names, "; "))
	}

	a.sink().Security().Info("integrity verified", "checkpoint", cp.ID)
	return nil
}

func (a *Actions) alertAdmin(ctx context.Context) error {
	alert := &store.Alert{
		Timestamp:             a.now(),
		Severity:              store.SeverityCritical,
		Category:              "recovery",
		Description:           "Administrator alert: System requires attention",
		RemediationSuggestion: "Review the recovery logs and the latest health report",
	}
	if f, ok := TriggerFrom(ctx); ok {
		alert.AffectedSystem = f.Name
		alert.Description = fmt.Sprintf("Administrator alert: %s (%s)", f.Name, f.Message)
	}

	a.sink().Alert().Error(alert.Description, "affected_system", alert.AffectedSystem)

	if a.Alerts == nil {
		return nil
	}
	if err := a.Alerts.InsertAlert(alert); err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}
