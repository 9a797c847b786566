// Package sysinfo reads disk, memory, CPU and network figures from the host.
package sysinfo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrUnavailable is returned when the host does not expose memory statistics.
var ErrUnavailable = errors.New("memory statistics unavailable")

// MeminfoPath is the Linux memory statistics file.
const MeminfoPath = "/proc/meminfo"

// Usage is a used/total pair in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// Percent returns Used as a percentage of Total.
func (u Usage) Percent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total) * 100
}

// DiskUsage returns filesystem usage for the filesystem containing path.
func DiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	return Usage{
		Total: total,
		Used:  total - stat.Bfree*bsize,
		Free:  free,
	}, nil
}

// MemoryUsage reads memory usage from /proc/meminfo.
func MemoryUsage() (Usage, error) {
	file, err := os.Open(MeminfoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Usage{}, ErrUnavailable
		}
		return Usage{}, fmt.Errorf("failed to open %s: %w", MeminfoPath, err)
	}
	defer file.Close()

	return ParseMeminfo(file)
}

// ParseMeminfo parses the /proc/meminfo format. Used memory is
// MemTotal - MemAvailable, falling back to MemFree on old kernels.
func ParseMeminfo(r io.Reader) (Usage, error) {
	values := make(map[string]uint64)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// "MemTotal:       16316372 kB"
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		if key != "MemTotal" && key != "MemAvailable" && key != "MemFree" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Usage{}, fmt.Errorf("unexpected %s value in meminfo: %w", key, err)
		}
		values[key] = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return Usage{}, fmt.Errorf("failed to read meminfo: %w", err)
	}

	total, ok := values["MemTotal"]
	if !ok || total == 0 {
		return Usage{}, ErrUnavailable
	}
	avail, ok := values["MemAvailable"]
	if !ok {
		avail = values["MemFree"]
	}
	if avail > total {
		avail = total
	}

	return Usage{Total: total, Used: total - avail, Free: avail}, nil
}
