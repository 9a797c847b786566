package sysinfo

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMeminfo(t *testing.T) {
	input := `MemTotal:       16000000 kB
MemFree:         1000000 kB
MemAvailable:    4000000 kB
Buffers:          200000 kB
`
	u, err := ParseMeminfo(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseMeminfo() failed: %v", err)
	}

	if u.Total != 16000000*1024 {
		t.Errorf("Total = %d", u.Total)
	}
	if u.Free != 4000000*1024 {
		t.Errorf("Free = %d, want MemAvailable", u.Free)
	}
	if got := u.Percent(); got != 75 {
		t.Errorf("Percent() = %v, want 75", got)
	}
}

func TestParseMeminfo_FallsBackToMemFree(t *testing.T) {
	input := "MemTotal: 1000 kB\nMemFree: 100 kB\n"
	u, err := ParseMeminfo(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseMeminfo() failed: %v", err)
	}
	if got := u.Percent(); got != 90 {
		t.Errorf("Percent() = %v, want 90", got)
	}
}

func TestParseMeminfo_Unavailable(t *testing.T) {
	_, err := ParseMeminfo(strings.NewReader("Buffers: 10 kB\n"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("ParseMeminfo() error = %v, want ErrUnavailable", err)
	}
}

func TestParseMeminfo_BadValue(t *testing.T) {
	_, err := ParseMeminfo(strings.NewReader("MemTotal: lots kB\n"))
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Errorf("ParseMeminfo() error = %v, want parse error", err)
	}
}

func TestDiskUsage(t *testing.T) {
	u, err := DiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("DiskUsage() failed: %v", err)
	}
	if u.Total == 0 {
		t.Error("Total should be positive")
	}
	if p := u.Percent(); p < 0 || p > 100 {
		t.Errorf("Percent() = %v, out of range", p)
	}
}

func TestDiskUsage_MissingPath(t *testing.T) {
	if _, err := DiskUsage("/definitely/not/a/real/path"); err == nil {
		t.Error("DiskUsage() should fail for a missing path")
	}
}

func TestUsagePercent_ZeroTotal(t *testing.T) {
	if p := (Usage{}).Percent(); p != 0 {
		t.Errorf("Percent() = %v, want 0", p)
	}
}
