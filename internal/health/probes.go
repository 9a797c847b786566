package health

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/blackwell-systems/failsafe/internal/store"
	"github.com/blackwell-systems/failsafe/internal/sysinfo"
)

// Default probe names.
const (
	DiskSpaceName           = "disk_space"
	MemoryUsageName         = "memory_usage"
	CriticalFilesName       = "critical_files"
	StorageConnectivityName = "storage_connectivity"
)

// DiskSpace fails when the filesystem holding Path is fuller than Fail
// percent and warns above Warn percent.
type DiskSpace struct {
	Path       string
	Warn, Fail float64

	usage func(path string) (sysinfo.Usage, error)
}

func (d *DiskSpace) Run(ctx context.Context) Result {
	usage := d.usage
	if usage == nil {
		usage = sysinfo.DiskUsage
	}

	u, err := usage(d.Path)
	if err != nil {
		return errorResult("%v", err)
	}

	pct := u.Percent()
	details := map[string]any{
		"path":          d.Path,
		"usage_percent": pct,
		"total":         humanize.IBytes(u.Total),
		"free":          humanize.IBytes(u.Free),
	}

	switch {
	case pct > d.Fail:
		return Fail(fmt.Sprintf("Disk usage critical: %.1f%%", pct), details)
	case pct > d.Warn:
		return Warn(fmt.Sprintf("Disk usage high: %.1f%%", pct), details)
	default:
		return Pass(fmt.Sprintf("Disk usage normal: %.1f%%", pct), details)
	}
}

// MemoryUsage applies the same thresholds to system memory. Hosts without
// memory statistics pass.
type MemoryUsage struct {
	Warn, Fail float64

	usage func() (sysinfo.Usage, error)
}

func (m *MemoryUsage) Run(ctx context.Context) Result {
	usage := m.usage
	if usage == nil {
		usage = sysinfo.MemoryUsage
	}

	u, err := usage()
	if errors.Is(err, sysinfo.ErrUnavailable) {
		return Pass("Memory statistics unavailable on this host", nil)
	}
	if err != nil {
		return errorResult("%v", err)
	}

	pct := u.Percent()
	details := map[string]any{
		"usage_percent": pct,
		"total":         humanize.IBytes(u.Total),
		"available":     humanize.IBytes(u.Free),
	}

	switch {
	case pct > m.Fail:
		return Fail(fmt.Sprintf("Memory usage critical: %.1f%%", pct), details)
	case pct > m.Warn:
		return Warn(fmt.Sprintf("Memory usage high: %.1f%%", pct), details)
	default:
		return Pass(fmt.Sprintf("Memory usage normal: %.1f%%", pct), details)
	}
}

// CriticalFiles fails when any of Paths is missing.
type CriticalFiles struct {
	Paths []string
}

func (c *CriticalFiles) Run(ctx context.Context) Result {
	var missing []string
	for _, p := range c.Paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}

	details := map[string]any{"checked": len(c.Paths), "missing": missing}
	if len(missing) > 0 {
		return Fail(fmt.Sprintf("Critical files missing: %v", missing), details)
	}
	return Pass("All critical files present", details)
}

// StorageConnectivity opens the live database read-only and counts its
// tables. Fewer than MinTables means the store is incomplete or corrupt.
type StorageConnectivity struct {
	Path      string
	MinTables int
}

func (s *StorageConnectivity) Run(ctx context.Context) Result {
	db, err := store.OpenReadOnly(s.Path)
	if err != nil {
		return Fail(fmt.Sprintf("Database connectivity failed: %v", err), map[string]any{"path": s.Path})
	}
	defer db.Close()

	n, err := db.TableCount()
	if err != nil {
		return Fail(fmt.Sprintf("Database connectivity failed: %v", err), map[string]any{"path": s.Path})
	}

	details := map[string]any{"path": s.Path, "tables": n}
	if n < s.MinTables {
		return Fail(fmt.Sprintf("Database incomplete: %d tables, expected at least %d", n, s.MinTables), details)
	}
	return Pass("Database connectivity normal", details)
}
