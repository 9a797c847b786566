package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRestore_RoundTripsConfigurationByteForByte(t *testing.T) {
	ls := newLiveSystem(t)
	// Odd spacing and no trailing newline must survive untouched.
	original := "{ \"threshold\":95,\n\t\"mode\" : \"strict\" }"
	writeFile(t, ls.configPath, original)

	m := New(ls.options(newStepClock()))
	cp, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	writeFile(t, ls.configPath, `{"threshold": 10}`)

	res, err := m.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if !res.ConfigRestored {
		t.Error("ConfigRestored should be true")
	}
	if got := readFile(t, ls.configPath); got != original {
		t.Errorf("restored config = %q, want %q", got, original)
	}
}

func TestRestore_DatabaseAndLogs(t *testing.T) {
	ls := newLiveSystem(t)
	m := New(ls.options(newStepClock()))

	cp, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	backup := readFile(t, filepath.Join(ls.cpDir, cp.DatabaseBackupPath))

	writeFile(t, ls.dbPath, "garbage")
	writeFile(t, filepath.Join(ls.logDir, "system.log"), "rewritten\n")
	writeFile(t, filepath.Join(ls.logDir, "new.log"), "appeared later\n")

	hookCalls := 0
	m.opts.AfterRestore = func() error {
		hookCalls++
		return nil
	}

	res, err := m.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if !res.DatabaseRestored || !res.LogsRestored {
		t.Errorf("result = %+v, want database and logs restored", res)
	}
	if hookCalls != 1 {
		t.Errorf("AfterRestore called %d times, want 1", hookCalls)
	}

	if readFile(t, ls.dbPath) != backup {
		t.Error("database not restored from the backup")
	}
	if got := readFile(t, filepath.Join(ls.logDir, "system.log")); got != "boot\n" {
		t.Errorf("system.log = %q, want %q", got, "boot\n")
	}
	if got := readFile(t, filepath.Join(ls.logDir, "archive", "old.log")); got != "older\n" {
		t.Errorf("nested log = %q", got)
	}
	if _, err := os.Stat(filepath.Join(ls.logDir, "new.log")); !os.IsNotExist(err) {
		t.Error("log directory should be replaced, not merged")
	}
	if len(res.Discrepancies) != 0 {
		t.Errorf("Discrepancies = %v, want none", res.Discrepancies)
	}
}

func TestRestore_ReportsDiscrepancies(t *testing.T) {
	ls := newLiveSystem(t)
	m := New(ls.options(newStepClock()))

	cp, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// The module is a critical file but not part of the restored artifacts.
	if err := os.Remove(ls.modulePath); err != nil {
		t.Fatalf("failed to remove module: %v", err)
	}

	res, err := m.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore() should succeed with discrepancies: %v", err)
	}
	if len(res.Discrepancies) != 1 {
		t.Fatalf("Discrepancies = %v, want 1", res.Discrepancies)
	}
	d := res.Discrepancies[0]
	if d.Path != ls.modulePath || d.Kind != Missing {
		t.Errorf("discrepancy = %+v, want missing %s", d, ls.modulePath)
	}

	writeFile(t, ls.modulePath, "print('tampered')\n")
	found, err := m.Verify(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(found) != 1 || found[0].Kind != HashMismatch {
		t.Errorf("Verify() = %v, want one hash mismatch", found)
	}
}

func TestRestore_NotFound(t *testing.T) {
	ls := newLiveSystem(t)
	m := New(ls.options(newStepClock()))

	for _, id := range []string{"checkpoint_123", "../../etc/passwd", ""} {
		_, err := m.Restore(context.Background(), id)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Restore(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestRestore_CorruptRecord(t *testing.T) {
	ls := newLiveSystem(t)
	m := New(ls.options(newStepClock()))

	cp, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	writeFile(t, filepath.Join(ls.cpDir, cp.ID+recordSuffix), "{not json")

	if _, err := m.Restore(context.Background(), cp.ID); !errors.Is(err, ErrCheckpointIO) {
		t.Errorf("Restore() error = %v, want ErrCheckpointIO", err)
	}
}

func TestCreateAndRestore_Serialize(t *testing.T) {
	ls := newLiveSystem(t)
	opts := ls.options(newStepClock())

	var active, overlaps int32
	enter := func() {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	clock := newStepClock()
	opts.Now = func() time.Time {
		enter()
		return clock.Now()
	}
	opts.AfterRestore = func() error {
		enter()
		return nil
	}
	m := New(opts)

	base, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := m.Create(context.Background()); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := m.Restore(context.Background(), base.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}
	if n := atomic.LoadInt32(&overlaps); n != 0 {
		t.Errorf("create and restore overlapped %d times", n)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 5 {
		t.Errorf("List() = %d checkpoints, want 5", len(list))
	}

	if _, err := m.Restore(context.Background(), base.ID); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if found, err := m.Verify(context.Background(), base.ID); err != nil {
		t.Errorf("Verify() failed: %v", err)
	} else if len(found) != 0 {
		t.Errorf("Verify() = %v, want no discrepancies", found)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"../escape.log", "/abs.log", "a/../../b.log"} {
		if _, err := safeJoin(root, name); err == nil {
			t.Errorf("safeJoin(%q) should fail", name)
		}
	}
	got, err := safeJoin(root, "nested/ok.log")
	if err != nil || got != filepath.Join(root, "nested", "ok.log") {
		t.Errorf("safeJoin(nested/ok.log) = %q, %v", got, err)
	}
}
