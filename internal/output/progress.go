package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

const spinnerTick = 100 * time.Millisecond

// writerIsTTY reports whether w is a file attached to a terminal.
func writerIsTTY(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}

// Spinner shows one line of progress for a long-running operation such as
// a checkpoint restore or a recovery plan. On a terminal the line animates
// in place. Anywhere else each distinct message is printed once on its own
// line, so piped output reads as a step log.
//
// A Spinner is safe for use from multiple goroutines.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	message string
	frame   int
	width   int
	active  bool
	done    chan struct{}
}

// NewSpinner creates a stopped spinner writing to stdout.
func NewSpinner(message string) *Spinner {
	return &Spinner{w: os.Stdout, message: message}
}

// SetWriter redirects the spinner. Call it before Start.
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// Start shows the spinner. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}
	s.active = true
	s.tty = writerIsTTY(s.w)

	if !s.tty {
		fmt.Fprintln(s.w, s.message)
		return
	}

	s.done = make(chan struct{})
	go s.animate(s.done)
}

func (s *Spinner) animate(done <-chan struct{}) {
	t := time.NewTicker(spinnerTick)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.mu.Lock()
			s.drawLocked()
			s.mu.Unlock()
		}
	}
}

// drawLocked repaints the line, padding over anything longer drawn before.
func (s *Spinner) drawLocked() {
	line := spinnerFrames[s.frame%len(spinnerFrames)] + "  " + s.message
	s.frame++
	if len(line) > s.width {
		s.width = len(line)
	}
	fmt.Fprintf(s.w, "\r%-*s", s.width, line)
}

// Update replaces the message.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message == s.message {
		return
	}
	s.message = message
	if s.active && !s.tty {
		fmt.Fprintln(s.w, message)
	}
}

// Step shows progress through a recovery plan.
func (s *Spinner) Step(plan string, n, total int, action string) {
	s.Update(StepMessage(plan, n, total, action))
}

// StepMessage formats plan progress as "disk_cleanup step 2/4: cleanup_backups".
func StepMessage(plan string, n, total int, action string) string {
	return fmt.Sprintf("%s step %d/%d: %s", plan, n, total, action)
}

// Stop hides the spinner. Stopping a stopped spinner does nothing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	if s.tty {
		close(s.done)
		fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width))
	}
}

// StopWithMessage stops the spinner and prints a final line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, message)
}
