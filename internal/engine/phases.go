package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianlabs/meridian/internal/model"
)

// cycleState threads the data produced early in a cycle into its later
// phases. It is discarded at cycle end; only the engine's most-recent cache
// outlives it.
type cycleState struct {
	opportunities []model.Opportunity
	trends        model.TrendSnapshot
	cycleYield    model.Amount
	yields        []model.YieldResult
}

// RunCycle executes the fixed phase sequence once. Phase failures are
// recorded into the cycle record and do not abort the remaining phases.
// The record is finalized and appended, the aggregate updated, and the
// milestone detector run before RunCycle returns, so cycle N's accounting
// happens-before cycle N+1's discover phase.
func (e *Engine) RunCycle(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	started := time.Now().UTC()
	cycleNumber := e.store.Snapshot().TotalCycles + 1
	rec := model.CycleRecord{
		CycleNumber: cycleNumber,
		StartedAt:   started,
	}
	cs := &cycleState{}

	e.logger.Info("cycle starting", "cycle", cycleNumber)
	for _, phase := range model.PhaseOrder {
		e.runPhase(ctx, phase, &rec, cs)
	}

	rec.Duration = time.Since(started)
	rec.OpportunitiesFound = uint32(len(cs.opportunities))
	rec.YieldAmount = cs.cycleYield

	e.store.RecordCycle(ctx, rec)
	e.checkMilestones(ctx)

	e.store.AppendActivity(ctx, model.ActivityEvent{
		Kind:        model.ActivityCycleCompleted,
		CycleNumber: rec.CycleNumber,
		Payload: map[string]string{
			"duration":      rec.Duration.String(),
			"opportunities": fmt.Sprint(rec.OpportunitiesFound),
			"yield":         rec.YieldAmount.String(),
			"phase_errors":  fmt.Sprint(len(rec.PhaseErrors)),
		},
	})

	e.cyclesRun.Add(ctx, 1)
	e.cycleDuration.Record(ctx, rec.Duration.Seconds())
	e.logger.Info("cycle completed",
		"cycle", rec.CycleNumber,
		"duration", rec.Duration,
		"opportunities", rec.OpportunitiesFound,
		"yield", rec.YieldAmount.String(),
		"phase_errors", len(rec.PhaseErrors))
	return nil
}

// runPhase wraps one phase in the isolation contract: an error or panic is
// caught, logged, and recorded as a PhaseError, and the cycle moves on.
func (e *Engine) runPhase(ctx context.Context, phase model.Phase, rec *model.CycleRecord, cs *cycleState) {
	defer func() {
		if r := recover(); r != nil {
			e.recordPhaseError(ctx, rec, phase, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := e.executePhase(ctx, phase, rec, cs); err != nil {
		e.recordPhaseError(ctx, rec, phase, err)
	}
}

func (e *Engine) executePhase(ctx context.Context, phase model.Phase, rec *model.CycleRecord, cs *cycleState) error {
	subs := e.registry.ForPhase(phase)

	switch phase {
	case model.PhaseDiscover:
		opps, errs := e.fanout.Discover(ctx, subs)
		e.noteSubsystemErrors(ctx, errs)
		cs.opportunities = opps
		e.cacheMu.Lock()
		e.opportunities = opps
		e.cacheMu.Unlock()

	case model.PhaseAnalyze:
		trends, errs := e.fanout.Analyze(ctx, subs)
		e.noteSubsystemErrors(ctx, errs)
		cs.trends = trends
		e.cacheMu.Lock()
		e.trends = trends
		e.cacheMu.Unlock()

	case model.PhaseProvision, model.PhaseCampaigns:
		// Campaign launch/optimize is a provision in campaign terms; the
		// two phases differ only in which subsystems are registered.
		_, errs := e.fanout.Provision(ctx, phase, subs, cs.opportunities)
		e.noteSubsystemErrors(ctx, errs)

	case model.PhaseExecute:
		total, yields, errs := e.fanout.Execute(ctx, subs, cs.opportunities, cs.trends)
		e.noteSubsystemErrors(ctx, errs)
		cs.cycleYield = total
		cs.yields = yields

	case model.PhaseReconcile:
		// Nil opportunities signals "ensure minimum footprint".
		_, errs := e.fanout.Provision(ctx, phase, subs, nil)
		e.noteSubsystemErrors(ctx, errs)

	case model.PhaseExperiments:
		errs := e.fanout.Experiment(ctx, subs, cs.opportunities, cs.trends)
		e.noteSubsystemErrors(ctx, errs)

	case model.PhaseEmitEvents:
		e.store.AppendActivity(ctx, model.ActivityEvent{
			Kind:        model.ActivityCycleEvents,
			CycleNumber: rec.CycleNumber,
			Payload: map[string]string{
				"opportunities": fmt.Sprint(len(cs.opportunities)),
				"yield_sources": fmt.Sprint(len(cs.yields)),
				"cycle_yield":   cs.cycleYield.String(),
			},
		})

	default:
		return fmt.Errorf("engine: unknown phase %q", phase)
	}
	return nil
}

func (e *Engine) recordPhaseError(ctx context.Context, rec *model.CycleRecord, phase model.Phase, err error) {
	e.logger.Error("phase failed", "cycle", rec.CycleNumber, "phase", phase, "error", err)
	e.phaseErrors.Add(ctx, 1)
	rec.PhaseErrors = append(rec.PhaseErrors, model.PhaseError{
		Phase:      phase,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	})
	e.store.AppendActivity(ctx, model.ActivityEvent{
		Kind:        model.ActivityPhaseError,
		CycleNumber: rec.CycleNumber,
		Payload: map[string]string{
			"phase": string(phase),
			"error": err.Error(),
		},
	})
}

// noteSubsystemErrors logs isolated subsystem failures. They are excluded
// from phase results but never promoted to phase errors.
func (e *Engine) noteSubsystemErrors(ctx context.Context, errs []error) {
	for _, err := range errs {
		e.logger.Warn("subsystem failed", "error", err)
		e.subsysErrors.Add(ctx, 1)
	}
}

func (e *Engine) checkMilestones(ctx context.Context) {
	e.bootMu.Lock()
	detector := e.detector
	e.bootMu.Unlock()
	if detector == nil {
		return
	}

	for _, ev := range detector.Check(e.store.TotalYield()) {
		e.store.MarkMilestone(ctx, ev)
		e.store.AppendActivity(ctx, model.ActivityEvent{
			Kind: model.ActivityMilestone,
			Payload: map[string]string{
				"label":     ev.Milestone.Label,
				"threshold": ev.Milestone.Threshold.String(),
				"total":     ev.Total.String(),
			},
		})
		e.logger.Info("milestone reached",
			"label", ev.Milestone.Label,
			"threshold", ev.Milestone.Threshold.String(),
			"total", ev.Total.String())
	}
}
