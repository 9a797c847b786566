package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/failsafe/internal/metrics"
)

// Restore puts the live configuration, database and log directory back to
// the state recorded in checkpoint id, then verifies critical-file hashes.
// Discrepancies are reported in the result and do not fail the restore.
//
// Restore is not transactional: an I/O failure part way leaves whatever has
// already been copied in place and returns an error wrapping ErrCheckpointIO.
func (m *Manager) Restore(ctx context.Context, id string) (*RestoreResult, error) {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := m.restore(ctx, id)
	metrics.CheckpointOps.WithLabelValues("restore", metrics.Result(err)).Inc()
	if err != nil {
		m.log.Error("checkpoint restore failed", "id", id, "error", err)
		return nil, err
	}

	if len(res.Discrepancies) > 0 {
		for _, d := range res.Discrepancies {
			m.log.Warn("integrity discrepancy after restore", "id", id, "path", d.Path, "kind", string(d.Kind))
		}
	}
	m.log.Info("checkpoint restored", "id", id, "discrepancies", len(res.Discrepancies))

	return res, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*RestoreResult, error) {
	cp, err := m.load(id)
	if err != nil {
		return nil, err
	}

	res := &RestoreResult{ID: id, RestoredAt: m.now().UTC()}

	if cp.ConfigurationPresent && m.opts.ConfigPath != "" {
		if err := os.MkdirAll(filepath.Dir(m.opts.ConfigPath), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create config directory: %w", ErrCheckpointIO, err)
		}
		if err := writeFileSync(m.opts.ConfigPath, cp.Configuration, 0644); err != nil {
			return nil, fmt.Errorf("%w: failed to restore configuration: %w", ErrCheckpointIO, err)
		}
		res.ConfigRestored = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cp.DatabaseBackupPath != "" && m.opts.DatabasePath != "" {
		// A leftover rollback journal would be replayed over the restored file.
		if err := os.Remove(m.opts.DatabasePath + "-journal"); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to remove stale journal: %w", ErrCheckpointIO, err)
		}
		if err := copyFile(m.artifactPath(cp.DatabaseBackupPath), m.opts.DatabasePath); err != nil {
			return nil, fmt.Errorf("%w: failed to restore database: %w", ErrCheckpointIO, err)
		}
		res.DatabaseRestored = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cp.LogsArchivePath != "" && m.opts.LogDir != "" {
		if err := m.replaceLogDir(m.artifactPath(cp.LogsArchivePath)); err != nil {
			return nil, fmt.Errorf("%w: failed to restore logs: %w", ErrCheckpointIO, err)
		}
		res.LogsRestored = true
	}

	if m.opts.AfterRestore != nil {
		if err := m.opts.AfterRestore(); err != nil {
			m.log.Warn("after-restore hook failed", "id", id, "error", err)
		}
	}

	res.Discrepancies = compareHashes(cp.FileHashes)
	return res, nil
}

// replaceLogDir unpacks the archive next to the live log directory and swaps
// it in, so a corrupt archive leaves the live directory untouched.
func (m *Manager) replaceLogDir(archive string) error {
	staging := m.opts.LogDir + ".restore"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := extractArchive(archive, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(m.opts.LogDir); err != nil {
		return err
	}
	return os.Rename(staging, m.opts.LogDir)
}

// Verify compares the live critical files against checkpoint id without
// restoring anything.
func (m *Manager) Verify(ctx context.Context, id string) ([]Discrepancy, error) {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cp, err := m.load(id)
	if err != nil {
		return nil, err
	}
	return compareHashes(cp.FileHashes), nil
}

// Get returns the record for checkpoint id.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	return m.load(id)
}

// load reads and parses a checkpoint record.
func (m *Manager) load(id string) (*Checkpoint, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	data, err := os.ReadFile(m.recordPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint %s: %w", ErrCheckpointIO, id, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse checkpoint %s: %w", ErrCheckpointIO, id, err)
	}
	if cp.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: checkpoint %s has unsupported format version %d", ErrCheckpointIO, id, cp.FormatVersion)
	}

	return &cp, nil
}
