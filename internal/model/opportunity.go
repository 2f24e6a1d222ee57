package model

import (
	"time"

	"github.com/google/uuid"
)

// OpportunityKind categorizes an opportunity for ranking purposes.
// Any string is accepted at the subsystem boundary; the kinds below are the
// ones with dedicated rank multipliers by default.
type OpportunityKind string

const (
	KindAffiliate   OpportunityKind = "affiliate"
	KindMarketplace OpportunityKind = "marketplace"
	KindContent     OpportunityKind = "content"
	KindResearch    OpportunityKind = "research"
)

// Opportunity is a candidate unit of work produced by the discover phase and
// consumed read-only by later phases of the same cycle.
type Opportunity struct {
	ID             uuid.UUID       `json:"id"`
	Kind           OpportunityKind `json:"kind"`
	Score          float64         `json:"score"`      // 0..100
	EstimatedYield Amount          `json:"estimated_yield"`
	Confidence     float64         `json:"confidence"` // 0..1
}

// TrendSnapshot is the analyze phase's view of per-kind momentum, sampled
// once per cycle.
type TrendSnapshot struct {
	SampledAt time.Time                   `json:"sampled_at"`
	Momentum  map[OpportunityKind]float64 `json:"momentum,omitempty"`
	Notes     map[string]string           `json:"notes,omitempty"`
}

// ProvisionResult reports what a subsystem provisioned for a set of
// opportunities.
type ProvisionResult struct {
	Provisioned int               `json:"provisioned"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// YieldResult is the numeric outcome a subsystem reports for the execute
// phase.
type YieldResult struct {
	Amount   Amount            `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
