package meridian

import (
	"time"

	"github.com/google/uuid"
)

// Phase names one step within an engine cycle. Subsystems register for the
// phases they participate in via WithSubsystem.
type Phase string

const (
	PhaseDiscover    Phase = "discover"
	PhaseAnalyze     Phase = "analyze_trends"
	PhaseProvision   Phase = "acquire_assets"
	PhaseCampaigns   Phase = "launch_or_optimize"
	PhaseExecute     Phase = "execute_yield"
	PhaseReconcile   Phase = "reconcile_assets"
	PhaseExperiments Phase = "run_experiments"
)

// Opportunity is a candidate unit of work produced by discovery.
// Monetary fields are integer cents to keep aggregation exact.
type Opportunity struct {
	ID                  uuid.UUID
	Kind                string
	Score               float64 // 0..100
	EstimatedYieldCents int64
	Confidence          float64 // 0..1
}

// TrendSnapshot is a subsystem's view of per-kind momentum.
type TrendSnapshot struct {
	SampledAt time.Time
	Momentum  map[string]float64
	Notes     map[string]string
}

// ProvisionResult reports what a subsystem provisioned for a set of
// opportunities.
type ProvisionResult struct {
	Provisioned int
	Metadata    map[string]string
}

// YieldResult is the numeric outcome a subsystem reports for the execute
// phase.
type YieldResult struct {
	AmountCents int64
	Metadata    map[string]string
}

// Milestone is one rung of the cumulative-yield ladder.
type Milestone struct {
	ThresholdCents int64
	Label          string
}
