package recovery

import (
	"sort"
	"time"
)

// Action names a remediation step handler.
type Action string

const (
	ActionCleanupLogs       Action = "cleanup_logs"
	ActionCleanupBackups    Action = "cleanup_backups"
	ActionCompressData      Action = "compress_data"
	ActionGarbageCollect    Action = "garbage_collect"
	ActionRestartModules    Action = "restart_modules"
	ActionReduceMonitoring  Action = "reduce_monitoring"
	ActionIdentifyCorrupted Action = "identify_corrupted"
	ActionRestoreFromBackup Action = "restore_from_backup"
	ActionVerifyIntegrity   Action = "verify_integrity"
	ActionRestartSystem     Action = "restart_system"
	ActionAlertAdmin        Action = "alert_admin"
)

// Step is one remediation step of a plan.
type Step struct {
	Action      Action `json:"action"`
	Description string `json:"description"`
}

// Plan is an ordered list of steps for one failure category.
type Plan struct {
	ID                 string        `json:"id"`
	Category           Category      `json:"category"`
	Steps              []Step        `json:"steps"`
	EstimatedTime      time.Duration `json:"estimated_time"`
	SuccessProbability float64       `json:"success_probability"`
	RollbackAvailable  bool          `json:"rollback_available"`
}

func (p Plan) clone() Plan {
	p.Steps = append([]Step(nil), p.Steps...)
	return p
}

// Catalog is an immutable set of plans keyed by category.
type Catalog struct {
	plans map[Category]Plan
}

// NewCatalog builds a catalog. A later plan for the same category replaces
// an earlier one.
func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[Category]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.Category] = p.clone()
	}
	return c
}

// Lookup returns a copy of the plan for a category.
func (c *Catalog) Lookup(cat Category) (Plan, bool) {
	p, ok := c.plans[cat]
	if !ok {
		return Plan{}, false
	}
	return p.clone(), true
}

// Plans returns copies of every plan, sorted by id.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultCatalog returns the built-in plans. UNKNOWN_FAILURE has none.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{
			ID:       "disk_cleanup",
			Category: DiskSpaceCritical,
			Steps: []Step{
				{ActionCleanupLogs, "Remove old log files"},
				{ActionCleanupBackups, "Remove old backup files"},
				{ActionCompressData, "Compress data files"},
				{ActionAlertAdmin, "Alert administrator"},
			},
			EstimatedTime:      5 * time.Minute,
			SuccessProbability: 0.8,
			RollbackAvailable:  true,
		},
		Plan{
			ID:       "memory_cleanup",
			Category: MemoryCritical,
			Steps: []Step{
				{ActionGarbageCollect, "Force garbage collection"},
				{ActionRestartModules, "Restart non-critical modules"},
				{ActionReduceMonitoring, "Reduce monitoring frequency"},
				{ActionAlertAdmin, "Alert administrator"},
			},
			EstimatedTime:      2 * time.Minute,
			SuccessProbability: 0.7,
			RollbackAvailable:  false,
		},
		Plan{
			ID:       "file_restore",
			Category: FileCorruption,
			Steps: []Step{
				{ActionIdentifyCorrupted, "Identify corrupted files"},
				{ActionRestoreFromBackup, "Restore from latest backup"},
				{ActionVerifyIntegrity, "Verify file integrity"},
				{ActionRestartSystem, "Restart affected systems"},
			},
			EstimatedTime:      10 * time.Minute,
			SuccessProbability: 0.9,
			RollbackAvailable:  true,
		},
	)
}
