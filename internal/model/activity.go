package model

import (
	"time"
)

// ActivityKind is the category of an activity log entry.
type ActivityKind string

const (
	ActivityBootstrap      ActivityKind = "bootstrap_completed"
	ActivityCycleCompleted ActivityKind = "cycle_completed"
	ActivityCycleEvents    ActivityKind = "cycle_events"
	ActivityPhaseError     ActivityKind = "phase_error"
	ActivityMilestone      ActivityKind = "milestone_reached"
	ActivityPaused         ActivityKind = "engine_paused"
	ActivityResumed        ActivityKind = "engine_resumed"
	ActivityStopped        ActivityKind = "engine_stopped"
	ActivityReset          ActivityKind = "administrative_reset"
)

// ActivityEvent is one entry in the bounded activity log. Payload values are
// primitives only; the core never round-trips structured data through it.
type ActivityEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Kind        ActivityKind      `json:"kind"`
	CycleNumber uint64            `json:"cycle_number"`
	TotalYield  Amount            `json:"total_yield"`
	Payload     map[string]string `json:"payload,omitempty"`
}
