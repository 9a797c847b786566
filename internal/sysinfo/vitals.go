package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Vitals is a snapshot of host resource figures. Counters such as the
// network byte totals are cumulative since boot.
type Vitals struct {
	Timestamp  time.Time
	CPUPercent float64
	Load1      float64
	Load5      float64
	Load15     float64
	Memory     Usage
	Disk       Usage
	NetRxBytes uint64
	NetTxBytes uint64
	// Processes counts running processes whose command name is one of
	// VitalsOptions.ProcessNames.
	Processes int
}

// VitalsOptions configures ReadVitals.
type VitalsOptions struct {
	// ProcPath is the proc mount point. Default: /proc
	ProcPath string
	// DiskPath selects the filesystem reported in Disk. Default: /
	DiskPath string
	// ProcessNames are the command names counted in Processes.
	ProcessNames []string
	// CPUSample is the window between the two CPU readings. Default: 100ms
	CPUSample time.Duration
}

// ReadVitals reads every figure it can. Sections that fail are left zero and
// reported together in the returned error; the snapshot is never nil.
func ReadVitals(ctx context.Context, opts VitalsOptions) (*Vitals, error) {
	if opts.ProcPath == "" {
		opts.ProcPath = procfs.DefaultMountPoint
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.CPUSample <= 0 {
		opts.CPUSample = 100 * time.Millisecond
	}

	v := &Vitals{Timestamp: time.Now()}

	var errs []error
	if u, err := DiskUsage(opts.DiskPath); err == nil {
		v.Disk = u
	} else {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	}
	if err := readProc(ctx, v, opts); err != nil {
		errs = append(errs, err)
	}
	return v, errors.Join(errs...)
}

func readProc(ctx context.Context, v *Vitals, opts VitalsOptions) error {
	fs, err := procfs.NewFS(opts.ProcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", opts.ProcPath, err)
	}

	var errs []error

	if pct, err := cpuPercent(ctx, fs, opts.CPUSample); err == nil {
		v.CPUPercent = pct
	} else {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	}

	if la, err := fs.LoadAvg(); err == nil {
		v.Load1, v.Load5, v.Load15 = la.Load1, la.Load5, la.Load15
	} else {
		errs = append(errs, fmt.Errorf("load average: %w", err))
	}

	if mi, err := fs.Meminfo(); err == nil {
		v.Memory = memoryFrom(mi)
	} else {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}

	if nd, err := fs.NetDev(); err == nil {
		total := nd.Total()
		v.NetRxBytes, v.NetTxBytes = total.RxBytes, total.TxBytes
	} else {
		errs = append(errs, fmt.Errorf("network: %w", err))
	}

	if len(opts.ProcessNames) > 0 {
		if n, err := countProcesses(fs, opts.ProcessNames); err == nil {
			v.Processes = n
		} else {
			errs = append(errs, fmt.Errorf("processes: %w", err))
		}
	}

	return errors.Join(errs...)
}

func cpuPercent(ctx context.Context, fs procfs.FS, window time.Duration) (float64, error) {
	first, err := fs.Stat()
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(window):
	}

	second, err := fs.Stat()
	if err != nil {
		return 0, err
	}
	return busyPercent(first.CPUTotal, second.CPUTotal), nil
}

// busyPercent is the share of CPU time between a and b not spent idle or
// waiting on I/O.
func busyPercent(a, b procfs.CPUStat) float64 {
	idle := (b.Idle + b.Iowait) - (a.Idle + a.Iowait)
	total := cpuTotal(b) - cpuTotal(a)
	if total <= 0 {
		return 0
	}
	pct := (total - idle) / total * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// Guest time is already counted in User and Nice.
func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func memoryFrom(mi procfs.Meminfo) Usage {
	if mi.MemTotalBytes == nil || *mi.MemTotalBytes == 0 {
		return Usage{}
	}
	total := *mi.MemTotalBytes

	var avail uint64
	switch {
	case mi.MemAvailableBytes != nil:
		avail = *mi.MemAvailableBytes
	case mi.MemFreeBytes != nil:
		avail = *mi.MemFreeBytes
	}
	if avail > total {
		avail = total
	}
	return Usage{Total: total, Used: total - avail, Free: avail}
}

func countProcesses(fs procfs.FS, names []string) (int, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range procs {
		// Processes can exit between the listing and the read.
		comm, err := p.Comm()
		if err != nil {
			continue
		}
		if want[comm] {
			count++
		}
	}
	return count, nil
}
