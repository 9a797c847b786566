package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// lockName is the lock file inside the checkpoint directory. Every Manager
// on the directory, in any process, takes it before touching artifacts.
const lockName = ".lock"

const lockRetry = 25 * time.Millisecond

// acquire takes the in-process mutex and then an exclusive flock on the
// checkpoint directory. The returned func releases both.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	m.mu.Lock()

	if err := os.MkdirAll(m.opts.Dir, 0755); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: failed to create checkpoint directory: %w", ErrCheckpointIO, err)
	}

	f, err := os.OpenFile(filepath.Join(m.opts.Dir, lockName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: failed to open lock file: %w", ErrCheckpointIO, err)
	}

	fail := func(err error) (func(), error) {
		f.Close()
		m.mu.Unlock()
		return nil, err
	}

	waited := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return fail(fmt.Errorf("%w: failed to lock checkpoint directory: %w", ErrCheckpointIO, err))
		}
		if !waited {
			m.log.Debug("waiting for checkpoint directory lock", "dir", m.opts.Dir)
			waited = true
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-time.After(lockRetry):
		}
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		m.mu.Unlock()
	}, nil
}
