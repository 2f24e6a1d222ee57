package model

import (
	"time"
)

// Milestone is one rung of the cumulative-yield ladder.
type Milestone struct {
	Threshold Amount `json:"threshold" yaml:"threshold"`
	Label     string `json:"label" yaml:"label"`
}

// MilestoneEvent records a threshold crossing. Each milestone fires exactly
// once; a later drop in total (administrative reset aside) never re-arms it.
type MilestoneEvent struct {
	Milestone Milestone `json:"milestone"`
	Total     Amount    `json:"total"`
	ReachedAt time.Time `json:"reached_at"`
}

// DefaultMilestones is the built-in cumulative-yield ladder, ascending.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Threshold: AmountFromCents(100_000_00), Label: "first-hundred-k"},
		{Threshold: AmountFromCents(1_000_000_00), Label: "first-million"},
		{Threshold: AmountFromCents(10_000_000_00), Label: "ten-million"},
		{Threshold: AmountFromCents(100_000_000_00), Label: "hundred-million"},
		{Threshold: AmountFromCents(1_000_000_000_00), Label: "first-billion"},
		{Threshold: AmountFromCents(10_000_000_000_00), Label: "ten-billion"},
		{Threshold: AmountFromCents(100_000_000_000_00), Label: "hundred-billion"},
		{Threshold: AmountFromCents(250_000_000_000_00), Label: "target"},
	}
}
