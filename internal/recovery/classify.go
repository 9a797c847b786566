// Package recovery classifies health failures, holds the catalog of recovery
// plans and executes them step by step.
package recovery

import (
	"strings"

	"github.com/blackwell-systems/failsafe/internal/health"
)

// Category is a coarse failure classification used to pick a plan.
type Category string

const (
	DiskSpaceCritical Category = "DISK_SPACE_CRITICAL"
	MemoryCritical    Category = "MEMORY_CRITICAL"
	FileCorruption    Category = "FILE_CORRUPTION"
	UnknownFailure    Category = "UNKNOWN_FAILURE"
)

// Classify maps a probe failure to a category by case-insensitive substring
// match on its name and message. The first matching rule wins, in this
// order: disk, memory, file.
func Classify(f health.Failure) Category {
	name := strings.ToLower(f.Name)
	msg := strings.ToLower(f.Message)

	switch {
	case strings.Contains(name, "disk") || strings.Contains(msg, "disk"):
		return DiskSpaceCritical
	case strings.Contains(name, "memory") || strings.Contains(msg, "memory"):
		return MemoryCritical
	case strings.Contains(name, "file") || strings.Contains(msg, "missing") || strings.Contains(msg, "corruption"):
		return FileCorruption
	default:
		return UnknownFailure
	}
}
