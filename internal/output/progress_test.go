package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSpinner_PrintsStepLogOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("Running disk_cleanup...")
	s.SetWriter(&buf)

	s.Start()
	s.Step("disk_cleanup", 1, 3, "cleanup_logs")
	s.Step("disk_cleanup", 1, 3, "cleanup_logs")
	s.Step("disk_cleanup", 2, 3, "cleanup_backups")
	s.Step("disk_cleanup", 3, 3, "compress_logs")
	s.StopWithMessage("✓ disk_cleanup completed")

	want := strings.Join([]string{
		"Running disk_cleanup...",
		"disk_cleanup step 1/3: cleanup_logs",
		"disk_cleanup step 2/3: cleanup_backups",
		"disk_cleanup step 3/3: compress_logs",
		"✓ disk_cleanup completed",
	}, "\n") + "\n"
	if got := buf.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestSpinner_SilentUntilStarted(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("Restoring checkpoint...")
	s.SetWriter(&buf)

	s.Step("file_restore", 1, 2, "restore_from_backup")
	if buf.Len() != 0 {
		t.Errorf("stopped spinner wrote %q", buf.String())
	}

	s.Start()
	if got := buf.String(); got != "file_restore step 1/2: restore_from_backup\n" {
		t.Errorf("Start() should show the latest step, got %q", got)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("Stopping daemon...")
	s.SetWriter(&buf)

	s.Stop()
	s.Start()
	s.Stop()
	s.Stop()

	if got := strings.Count(buf.String(), "Stopping daemon..."); got != 1 {
		t.Errorf("expected one start line, got %d in %q", got, buf.String())
	}
}

func TestSpinner_Restart(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("Creating checkpoint...")
	s.SetWriter(&buf)

	for i := 0; i < 3; i++ {
		s.Start()
		s.Stop()
	}

	if got := strings.Count(buf.String(), "Creating checkpoint...\n"); got != 3 {
		t.Errorf("expected 3 start lines, got %d in %q", got, buf.String())
	}
}

func TestSpinner_ConcurrentSteps(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner("Recovering...")
	s.SetWriter(&buf)
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 1; j <= 10; j++ {
				s.Step("memory_cleanup", j, 10, "clear_caches")
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	s.Stop()

	if !strings.Contains(buf.String(), "memory_cleanup step 10/10: clear_caches") {
		t.Errorf("last step missing from %q", buf.String())
	}
}

func TestStepMessage(t *testing.T) {
	if got := StepMessage("disk_cleanup", 2, 4, "cleanup_backups"); got != "disk_cleanup step 2/4: cleanup_backups" {
		t.Errorf("StepMessage() = %q", got)
	}
}

func TestSpinner_DrawPadsOverLongerLine(t *testing.T) {
	var buf bytes.Buffer
	s := &Spinner{w: &buf, message: "disk_cleanup step 1/4: cleanup_logs"}

	s.drawLocked()
	s.message = "step 2/4"
	buf.Reset()
	s.drawLocked()

	line := strings.TrimPrefix(buf.String(), "\r")
	if len(line) != len("|  disk_cleanup step 1/4: cleanup_logs") {
		t.Errorf("redraw should cover the previous line, got %q", line)
	}
	if !strings.HasPrefix(line, "/  step 2/4") {
		t.Errorf("redraw should advance the frame, got %q", line)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func BenchmarkFormatRelativeTime(b *testing.B) {
	times := []time.Time{
		time.Now().Add(-30 * time.Second),
		time.Now().Add(-5 * time.Minute),
		time.Now().Add(-2 * time.Hour),
		time.Now().Add(-3 * 24 * time.Hour),
		time.Now().Add(-30 * 24 * time.Hour),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		formatRelativeTime(times[i%len(times)])
	}
}
