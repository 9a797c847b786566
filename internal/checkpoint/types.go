// Package checkpoint creates, restores and prunes point-in-time snapshots of
// the live system: configuration, module metadata, critical-file hashes, a
// copy of the live database and an archive of the log directory.
//
// On disk each checkpoint is three siblings in the checkpoint directory:
//
//	<id>.checkpoint.json   versioned record
//	<id>_database.db       verbatim database copy
//	<id>_logs.tar.gz       gzip-compressed tar of the log directory
//
// A record is published with a rename once both artifacts are written, so
// List and Restore never see a partial checkpoint.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FormatVersion is the current checkpoint record version.
const FormatVersion = 1

const (
	recordSuffix   = ".checkpoint.json"
	databaseSuffix = "_database.db"
	logsSuffix     = "_logs.tar.gz"
	idPrefix       = "checkpoint_"
)

var (
	// ErrNotFound is returned when a checkpoint id is unknown.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCheckpointIO is returned when a checkpoint artifact cannot be
	// written or read.
	ErrCheckpointIO = errors.New("checkpoint I/O error")
)

// Checkpoint is the versioned record persisted for every snapshot.
type Checkpoint struct {
	FormatVersion int                    `json:"format_version"`
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	SystemState   SystemState            `json:"system_state"`
	ModuleStates  map[string]ModuleState `json:"module_states"`

	// Configuration holds the live configuration document byte for byte.
	Configuration        []byte `json:"configuration"`
	ConfigurationPresent bool   `json:"configuration_present"`

	FileHashes map[string]string `json:"file_hashes"`

	// Artifact names are relative to the checkpoint directory and empty
	// when the live source did not exist at capture time.
	DatabaseBackupPath string `json:"database_backup_path,omitempty"`
	LogsArchivePath    string `json:"logs_archive_path,omitempty"`
}

// SystemState holds coarse host facts captured for reference only.
type SystemState struct {
	Hostname    string   `json:"hostname"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	GoVersion   string   `json:"go_version"`
	NumCPU      int      `json:"num_cpu"`
	MemoryTotal uint64   `json:"memory_total"`
	DiskTotal   uint64   `json:"disk_total"`
	WorkingDir  string   `json:"working_dir"`
	EnvNames    []string `json:"env_names"`
}

// ModuleState records a module's file provenance.
type ModuleState struct {
	Path     string    `json:"path"`
	Present  bool      `json:"present"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Hash     string    `json:"hash,omitempty"`
}

// ModuleRef names a module and the file that implements it.
type ModuleRef struct {
	Name string
	Path string
}

// DiscrepancyKind classifies an integrity discrepancy.
type DiscrepancyKind string

const (
	Missing      DiscrepancyKind = "missing"
	HashMismatch DiscrepancyKind = "hash mismatch"
)

// Discrepancy is one critical file that no longer matches its recorded hash.
type Discrepancy struct {
	Path     string
	Kind     DiscrepancyKind
	Expected string
	Actual   string
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Kind)
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	ID               string
	RestoredAt       time.Time
	ConfigRestored   bool
	DatabaseRestored bool
	LogsRestored     bool
	Discrepancies    []Discrepancy
}

// Options configures a Manager.
type Options struct {
	Dir           string
	ConfigPath    string
	DatabasePath  string
	LogDir        string
	CriticalFiles []string
	Modules       []ModuleRef
	MaxKept       int

	// Now defaults to time.Now.
	Now func() time.Time

	// AfterRestore runs after a restore has replaced the live artifacts,
	// before integrity verification.
	AfterRestore func() error

	Logger *slog.Logger
}

// Manager manages checkpoint creation, restoration and retention.
// Create, Restore, Verify and Prune are serialized by a mutex and by a
// flock on the checkpoint directory, which also excludes other processes.
type Manager struct {
	mu     sync.Mutex
	opts   Options
	now    func() time.Time
	log    *slog.Logger
	lastID int64
}

// New creates a new checkpoint Manager.
func New(opts Options) *Manager {
	m := &Manager{
		opts: opts,
		now:  opts.Now,
		log:  opts.Logger,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.opts.MaxKept <= 0 {
		m.opts.MaxKept = 10
	}
	return m
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.opts.Dir
}

// MaxKept returns the configured retention bound.
func (m *Manager) MaxKept() int {
	return m.opts.MaxKept
}
