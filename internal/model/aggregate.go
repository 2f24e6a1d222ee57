package model

import (
	"time"
)

// AggregateState is the process-wide running total. Exactly one instance
// exists, owned by the metrics store; all mutation is serialized there.
type AggregateState struct {
	TotalYield  Amount    `json:"total_yield"`
	TotalCycles uint64    `json:"total_cycles"`
	StartedAt   time.Time `json:"started_at"`
	// MilestonesReached holds the thresholds already crossed, ascending.
	MilestonesReached []Amount `json:"milestones_reached,omitempty"`
}

// Snapshot is an immutable point-in-time copy of the aggregate plus derived
// rates, returned to the control surface.
type Snapshot struct {
	AggregateState

	LastCycle     *CycleRecord  `json:"last_cycle,omitempty"`
	Uptime        time.Duration `json:"uptime"`
	YieldPerHour  float64       `json:"yield_per_hour"`
	YieldPerCycle float64       `json:"yield_per_cycle"`
	// TargetProgress is percent of the final milestone threshold reached,
	// 0 when no milestones are configured.
	TargetProgress float64 `json:"target_progress_percent"`
	ActivityDepth  int     `json:"activity_depth"`
}
