package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/failsafe/internal/metrics"
	"github.com/blackwell-systems/failsafe/internal/store"
	"github.com/blackwell-systems/failsafe/internal/sysinfo"
)

// Create captures a new checkpoint and prunes retention afterwards. If any
// artifact cannot be written, every sibling already written is removed and
// the returned error wraps ErrCheckpointIO.
func (m *Manager) Create(ctx context.Context) (*Checkpoint, error) {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cp, err := m.create(ctx)
	metrics.CheckpointOps.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		m.log.Error("checkpoint creation failed", "error", err)
		return nil, err
	}

	m.log.Info("checkpoint created", "id", cp.ID, "files", len(cp.FileHashes), "modules", len(cp.ModuleStates))

	if _, err := m.prune(m.opts.MaxKept); err != nil {
		m.log.Warn("retention pruning failed", "error", err)
	}

	return cp, nil
}

func (m *Manager) create(ctx context.Context) (cp *Checkpoint, err error) {
	if err := os.MkdirAll(m.opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create checkpoint directory: %w", ErrCheckpointIO, err)
	}

	ts := m.now().UTC()
	id := m.nextID(ts)

	cp = &Checkpoint{
		FormatVersion: FormatVersion,
		ID:            id,
		Timestamp:     ts,
		SystemState:   m.systemState(),
	}

	var written []string
	defer func() {
		if err != nil {
			for _, p := range written {
				os.Remove(p)
			}
		}
	}()

	if cp.ModuleStates, err = m.moduleStates(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpointIO, err)
	}

	data, err := os.ReadFile(m.opts.ConfigPath)
	switch {
	case err == nil:
		cp.Configuration = data
		cp.ConfigurationPresent = true
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: failed to read configuration: %w", ErrCheckpointIO, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dbHash string
	if m.opts.DatabasePath != "" && fileExists(m.opts.DatabasePath) {
		name := id + databaseSuffix
		dst := m.artifactPath(name)
		written = append(written, dst)
		if err := store.Backup(ctx, m.opts.DatabasePath, dst); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCheckpointIO, err)
		}
		cp.DatabaseBackupPath = name

		// The database path is recorded with the backup's hash.
		if dbHash, err = hashFile(dst); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCheckpointIO, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.opts.LogDir != "" && dirExists(m.opts.LogDir) {
		name := id + logsSuffix
		dst := m.artifactPath(name)
		written = append(written, dst)
		if err := archiveDir(m.opts.LogDir, dst); err != nil {
			return nil, fmt.Errorf("%w: failed to archive logs: %w", ErrCheckpointIO, err)
		}
		cp.LogsArchivePath = name
	}

	if cp.FileHashes, err = hashFiles(m.opts.CriticalFiles); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpointIO, err)
	}
	if _, ok := cp.FileHashes[m.opts.DatabasePath]; ok && dbHash != "" {
		cp.FileHashes[m.opts.DatabasePath] = dbHash
	}

	record := m.recordPath(id)
	written = append(written, record)
	if err := writeRecordAtomic(record, cp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpointIO, err)
	}

	return cp, nil
}

// nextID derives the id from the creation time, bumping it when two
// checkpoints land on the same clock reading.
func (m *Manager) nextID(ts time.Time) string {
	n := ts.UnixNano()
	if n <= m.lastID {
		n = m.lastID + 1
	}
	for fileExists(m.recordPath(idPrefix + strconv.FormatInt(n, 10))) {
		n++
	}
	m.lastID = n
	return idPrefix + strconv.FormatInt(n, 10)
}

func (m *Manager) systemState() SystemState {
	st := SystemState{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}
	st.Hostname, _ = os.Hostname()
	st.WorkingDir, _ = os.Getwd()

	if mem, err := sysinfo.MemoryUsage(); err == nil {
		st.MemoryTotal = mem.Total
	}
	if disk, err := sysinfo.DiskUsage(m.opts.Dir); err == nil {
		st.DiskTotal = disk.Total
	}

	// Names only. Values may hold secrets.
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && name != "" {
			st.EnvNames = append(st.EnvNames, name)
		}
	}
	sort.Strings(st.EnvNames)

	return st
}

func (m *Manager) moduleStates() (map[string]ModuleState, error) {
	states := make(map[string]ModuleState, len(m.opts.Modules))
	for _, mod := range m.opts.Modules {
		st := ModuleState{Path: mod.Path}

		info, err := os.Stat(mod.Path)
		switch {
		case os.IsNotExist(err) || mod.Path == "":
		case err != nil:
			return nil, fmt.Errorf("failed to stat module %s: %w", mod.Name, err)
		default:
			st.Present = true
			st.Modified = info.ModTime().UTC()
			if info.Mode().IsRegular() {
				st.Size = info.Size()
				if st.Hash, err = hashFile(mod.Path); err != nil {
					return nil, fmt.Errorf("failed to hash module %s: %w", mod.Name, err)
				}
			}
		}

		states[mod.Name] = st
	}
	return states, nil
}

func (m *Manager) artifactPath(name string) string {
	return filepath.Join(m.opts.Dir, name)
}

func (m *Manager) recordPath(id string) string {
	return filepath.Join(m.opts.Dir, id+recordSuffix)
}

// writeRecordAtomic writes the record under a temporary name and renames it
// into place.
func writeRecordAtomic(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := writeFileSync(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

func writeFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyFile copies src over dst in place, keeping dst's inode so open
// handles on it see the new contents.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
