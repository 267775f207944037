package session

import "fmt"

// ResourceLimits describes per-execution resource hints with a bounds
// check in Validate. The controller never enforces these itself — that is
// delegated to the runtime (spec.md §1 Non-goals, "sandbox enforcement
// delegated to the runtimes"). Nothing in the dispatch path uses this type:
// it is not part of the execute payload sent to the runtime worker, and
// Validate is not called before dispatch.
type ResourceLimits struct {
	CPUShares int64 `json:"cpu_shares,omitempty"`
	MemoryMB  int64 `json:"memory_mb,omitempty"`
	PidsLimit int64 `json:"pids_limit,omitempty"`
	DiskMB    int64 `json:"disk_mb,omitempty"`
}

// DefaultLimits mirrors the teacher's conservative defaults.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		CPUShares: 512,
		MemoryMB:  256,
		PidsLimit: 50,
		DiskMB:    100,
	}
}

func (rl ResourceLimits) Validate() error {
	if rl.CPUShares != 0 && (rl.CPUShares < 2 || rl.CPUShares > 4096) {
		return fmt.Errorf("cpu_shares must be 2-4096, got %d", rl.CPUShares)
	}
	if rl.MemoryMB != 0 && (rl.MemoryMB < 16 || rl.MemoryMB > 2048) {
		return fmt.Errorf("memory_mb must be 16-2048, got %d", rl.MemoryMB)
	}
	if rl.PidsLimit != 0 && (rl.PidsLimit < 5 || rl.PidsLimit > 500) {
		return fmt.Errorf("pids_limit must be 5-500, got %d", rl.PidsLimit)
	}
	if rl.DiskMB != 0 && (rl.DiskMB < 1 || rl.DiskMB > 1024) {
		return fmt.Errorf("disk_mb must be 1-1024, got %d", rl.DiskMB)
	}
	return nil
}
