package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/blackwell-systems/failsafe/internal/metrics"
)

// List returns every published checkpoint, newest first.
func (m *Manager) List() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(m.opts.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []*Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, recordSuffix)
		if !validID(id) {
			continue
		}

		cp, err := m.load(id)
		if err != nil {
			m.log.Warn("skipping unreadable checkpoint", "id", id, "error", err)
			continue
		}
		out = append(out, cp)
	}

	sortNewestFirst(out)
	return out, nil
}

// Latest returns the newest checkpoint, or ErrNotFound when none exist.
func (m *Manager) Latest() (*Checkpoint, error) {
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no checkpoints", ErrNotFound)
	}
	return list[0], nil
}

// Prune deletes every checkpoint beyond the maxKept newest, together with
// its sibling artifacts, and returns the ids removed.
func (m *Manager) Prune(maxKept int) ([]string, error) {
	unlock, err := m.acquire(context.Background())
	if err != nil {
		return nil, err
	}
	defer unlock()

	return m.prune(maxKept)
}

func (m *Manager) prune(maxKept int) ([]string, error) {
	if maxKept < 1 {
		maxKept = 1
	}

	list, err := m.List()
	if err != nil {
		metrics.CheckpointOps.WithLabelValues("prune", "error").Inc()
		return nil, err
	}

	var removed []string
	var errs []error
	if len(list) > maxKept {
		for _, cp := range list[maxKept:] {
			if err := m.removeCheckpoint(cp.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			removed = append(removed, cp.ID)
			m.log.Info("pruned checkpoint", "id", cp.ID)
		}
	}

	if err := m.removeOrphans(); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	metrics.CheckpointOps.WithLabelValues("prune", metrics.Result(err)).Inc()
	metrics.CheckpointsRetained.Set(float64(len(list) - len(removed)))
	return removed, err
}

// removeCheckpoint deletes the record first so a half-removed checkpoint is
// never listed, then its siblings.
func (m *Manager) removeCheckpoint(id string) error {
	var errs []error
	for _, p := range []string{
		m.recordPath(id),
		m.artifactPath(id + databaseSuffix),
		m.artifactPath(id + logsSuffix),
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// removeOrphans deletes artifacts and temp records left behind by an
// interrupted creation. Callers hold the directory lock, so no creation is
// in flight in any process.
func (m *Manager) removeOrphans() error {
	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		name := e.Name()
		var id string
		switch {
		case strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordSuffix+".tmp"):
			id = ""
		case strings.HasSuffix(name, databaseSuffix):
			id = strings.TrimSuffix(name, databaseSuffix)
		case strings.HasSuffix(name, logsSuffix):
			id = strings.TrimSuffix(name, logsSuffix)
		default:
			continue
		}
		if id != "" && (!validID(id) || fileExists(m.recordPath(id))) {
			continue
		}
		if err := os.Remove(m.artifactPath(name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortNewestFirst(list []*Checkpoint) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.After(list[j].Timestamp)
		}
		return idSeq(list[i].ID) > idSeq(list[j].ID)
	})
}

func validID(id string) bool {
	return idSeq(id) > 0
}

func idSeq(id string) int64 {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
