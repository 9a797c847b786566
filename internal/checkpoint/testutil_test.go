package checkpoint

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/failsafe/internal/store"
)

// liveSystem is a throwaway live layout: config, database, logs and one module.
type liveSystem struct {
	root       string
	configPath string
	dbPath     string
	logDir     string
	modulePath string
	cpDir      string
}

func newLiveSystem(t *testing.T) *liveSystem {
	t.Helper()
	root := t.TempDir()

	ls := &liveSystem{
		root:       root,
		configPath: filepath.Join(root, "system.json"),
		dbPath:     filepath.Join(root, "data", "failsafe.db"),
		logDir:     filepath.Join(root, "logs"),
		modulePath: filepath.Join(root, "modules", "web.py"),
		cpDir:      filepath.Join(root, "checkpoints"),
	}

	writeFile(t, ls.configPath, `{"name": "failsafe", "version": 1}`+"\n")
	writeFile(t, ls.modulePath, "print('web')\n")
	writeFile(t, filepath.Join(ls.logDir, "system.log"), "boot\n")
	writeFile(t, filepath.Join(ls.logDir, "archive", "old.log"), "older\n")

	if err := os.MkdirAll(filepath.Dir(ls.dbPath), 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	db, err := store.New(ls.dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := db.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	db.Close()

	return ls
}

func (ls *liveSystem) options(clock *stepClock) Options {
	return Options{
		Dir:           ls.cpDir,
		ConfigPath:    ls.configPath,
		DatabasePath:  ls.dbPath,
		LogDir:        ls.logDir,
		CriticalFiles: []string{ls.configPath, ls.dbPath, ls.modulePath},
		Modules:       []ModuleRef{{Name: "web", Path: ls.modulePath}, {Name: "ghost", Path: filepath.Join(ls.root, "ghost.py")}},
		MaxKept:       10,
		Now:           clock.Now,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// stepClock advances by one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
