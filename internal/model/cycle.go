package model

import (
	"time"
)

// PhaseError records a phase-level failure inside a cycle. The cycle it
// belongs to still completes; phase errors are accounting, not control flow.
type PhaseError struct {
	Phase      Phase     `json:"phase"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CycleRecord is the finalized accounting of one complete pass through the
// phase sequence. Created at cycle start, finalized at cycle end, immutable
// afterwards.
type CycleRecord struct {
	CycleNumber        uint64        `json:"cycle_number"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	OpportunitiesFound uint32        `json:"opportunities_found"`
	YieldAmount        Amount        `json:"yield_amount"`
	PhaseErrors        []PhaseError  `json:"phase_errors,omitempty"`
}

// Failed reports whether any phase inside the cycle recorded an error.
// A cycle with failed phases still counts as completed.
func (r CycleRecord) Failed() bool { return len(r.PhaseErrors) > 0 }
