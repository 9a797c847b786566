// Package config loads the failsafe daemon configuration.
//
// Configuration lives in a YAML file (default ~/.failsafe/failsafe.yaml).
// Environment variables referenced as ${VAR} are expanded before parsing,
// and every unset field falls back to a default rooted at the data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete failsafe configuration.
type Config struct {
	DataDir       string           `yaml:"data_dir"`
	Paths         PathsConfig      `yaml:"paths"`
	CriticalFiles []string         `yaml:"critical_files"`

	// CriticalProcesses are command names counted in the system vitals.
	CriticalProcesses []string         `yaml:"critical_processes"`
	Modules           []ModuleConfig   `yaml:"modules"`
	Monitor           MonitorConfig    `yaml:"monitor"`
	Checkpoint        CheckpointConfig `yaml:"checkpoint"`
	Thresholds        ThresholdConfig  `yaml:"thresholds"`
	Cleanup           CleanupConfig    `yaml:"cleanup"`
	Server            ServerConfig     `yaml:"server"`
	Logging           LoggingConfig    `yaml:"logging"`
}

// PathsConfig locates the live artifacts that checkpoints capture.
type PathsConfig struct {
	// SystemConfig is the live configuration document copied into every checkpoint.
	SystemConfig  string `yaml:"system_config"`
	Database      string `yaml:"database"`
	LogDir        string `yaml:"log_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	PIDFile       string `yaml:"pid_file"`
	DaemonLog     string `yaml:"daemon_log"`
}

// ModuleConfig describes a supervised module.
type ModuleConfig struct {
	Name           string        `yaml:"name"`
	Path           string        `yaml:"path"`
	Critical       bool          `yaml:"critical"`
	RestartCommand []string      `yaml:"restart_command"`
	RestartTimeout time.Duration `yaml:"restart_timeout"`
}

// MonitorConfig controls the monitoring loop.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	HistorySize  int           `yaml:"history_size"`
	StepPause    time.Duration `yaml:"step_pause"`
	WatchFiles   bool          `yaml:"watch_files"`
}

// CheckpointConfig controls the checkpoint timer and retention.
type CheckpointConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxKept  int           `yaml:"max_kept"`
	// OnStart creates a checkpoint as soon as the daemon starts.
	OnStart  bool          `yaml:"on_start"`
}

// ThresholdConfig holds probe thresholds in percent.
type ThresholdConfig struct {
	DiskWarn      float64 `yaml:"disk_warn"`
	DiskFail      float64 `yaml:"disk_fail"`
	MemoryWarn    float64 `yaml:"memory_warn"`
	MemoryFail    float64 `yaml:"memory_fail"`
	DiskPath      string  `yaml:"disk_path"`
	MinTableCount int     `yaml:"min_table_count"`
}

// CleanupConfig controls the log cleanup and compression recovery steps.
type CleanupConfig struct {
	MaxLogAge  time.Duration `yaml:"max_log_age"`
	MinLogSize int64         `yaml:"min_log_size"`
}

// ServerConfig holds the optional HTTP status endpoint.
type ServerConfig struct {
	// Addr is empty when the endpoint is disabled.
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// Dir returns the default failsafe data directory (~/.failsafe).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".failsafe"), nil
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults so that a fresh install runs without any setup.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration rooted at dataDir with every default applied.
func Default(dataDir string) *Config {
	cfg := &Config{DataDir: dataDir}
	_ = cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() error {
	if c.DataDir == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	c.DataDir = expandHome(c.DataDir)

	p := &c.Paths
	if p.SystemConfig == "" {
		p.SystemConfig = filepath.Join(c.DataDir, "system.json")
	}
	if p.Database == "" {
		p.Database = filepath.Join(c.DataDir, "data", "failsafe.db")
	}
	if p.LogDir == "" {
		p.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if p.CheckpointDir == "" {
		p.CheckpointDir = filepath.Join(c.DataDir, "checkpoints")
	}
	if p.PIDFile == "" {
		p.PIDFile = filepath.Join(c.DataDir, "failsafe.pid")
	}
	if p.DaemonLog == "" {
		p.DaemonLog = filepath.Join(c.DataDir, "daemon.log")
	}
	for _, ptr := range []*string{&p.SystemConfig, &p.Database, &p.LogDir, &p.CheckpointDir, &p.PIDFile, &p.DaemonLog} {
		*ptr = absPath(expandHome(*ptr))
	}

	if len(c.CriticalFiles) == 0 {
		c.CriticalFiles = []string{p.SystemConfig, p.Database}
	}
	for i, f := range c.CriticalFiles {
		c.CriticalFiles[i] = absPath(expandHome(f))
	}
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.Path != "" {
			m.Path = absPath(expandHome(m.Path))
		}
		if m.RestartTimeout == 0 {
			m.RestartTimeout = 30 * time.Second
		}
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 60 * time.Second
	}
	if c.Monitor.MaxInterval == 0 {
		c.Monitor.MaxInterval = 8 * c.Monitor.Interval
	}
	if c.Monitor.ErrorBackoff == 0 {
		c.Monitor.ErrorBackoff = 120 * time.Second
	}
	if c.Monitor.ProbeTimeout == 0 {
		c.Monitor.ProbeTimeout = 10 * time.Second
	}
	if c.Monitor.HistorySize == 0 {
		c.Monitor.HistorySize = 100
	}
	if c.Monitor.StepPause == 0 {
		c.Monitor.StepPause = 2 * time.Second
	}

	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = time.Hour
	}
	if c.Checkpoint.MaxKept == 0 {
		c.Checkpoint.MaxKept = 10
	}

	t := &c.Thresholds
	if t.DiskWarn == 0 {
		t.DiskWarn = 85
	}
	if t.DiskFail == 0 {
		t.DiskFail = 95
	}
	if t.MemoryWarn == 0 {
		t.MemoryWarn = 85
	}
	if t.MemoryFail == 0 {
		t.MemoryFail = 95
	}
	if t.DiskPath == "" {
		t.DiskPath = "/"
	}
	if t.MinTableCount == 0 {
		t.MinTableCount = 3
	}

	if c.Cleanup.MaxLogAge == 0 {
		c.Cleanup.MaxLogAge = 7 * 24 * time.Hour
	}
	if c.Cleanup.MinLogSize == 0 {
		c.Cleanup.MinLogSize = 100 * 1024 * 1024 // 100MB
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor.interval must be at least 1s")
	}
	if c.Monitor.MaxInterval < c.Monitor.Interval {
		return fmt.Errorf("monitor.max_interval must not be below monitor.interval")
	}
	if c.Monitor.HistorySize < 1 {
		return fmt.Errorf("monitor.history_size must be positive")
	}
	if c.Checkpoint.MaxKept < 1 {
		return fmt.Errorf("checkpoint.max_kept must be positive")
	}
	t := c.Thresholds
	if t.DiskWarn > t.DiskFail || t.DiskFail > 100 {
		return fmt.Errorf("thresholds: disk_warn must not exceed disk_fail, and disk_fail must not exceed 100")
	}
	if t.MemoryWarn > t.MemoryFail || t.MemoryFail > 100 {
		return fmt.Errorf("thresholds: memory_warn must not exceed memory_fail, and memory_fail must not exceed 100")
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("modules: every module needs a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("modules: duplicate module %q", m.Name)
		}
		seen[m.Name] = true
	}
	for _, f := range c.CriticalFiles {
		if fi, err := os.Stat(f); err == nil && fi.IsDir() {
			return fmt.Errorf("critical_files: %s is a directory; list the files inside it", f)
		}
	}
	return nil
}

// EnsureDirs creates the directories the daemon writes into.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Paths.Database),
		c.Paths.LogDir,
		c.Paths.CheckpointDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
