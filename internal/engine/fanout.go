package engine

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/meridian/internal/model"
)

// FanOut invokes every subsystem registered for a phase concurrently and
// collects partial results. One subsystem's failure never aborts its
// siblings: errors come back alongside the successful results.
type FanOut struct {
	logger        *slog.Logger
	minConfidence float64
	minScore      float64
	resultCap     int
	limit         int // max concurrent invocations; 0 = one goroutine per subsystem
	multipliers   map[model.OpportunityKind]float64
}

// NewFanOut builds a coordinator with the given filter thresholds, result
// cap, concurrency limit, and per-kind rank multipliers (nil = all 1.0).
func NewFanOut(logger *slog.Logger, minConfidence, minScore float64, resultCap, limit int, multipliers map[model.OpportunityKind]float64) *FanOut {
	return &FanOut{
		logger:        logger,
		minConfidence: minConfidence,
		minScore:      minScore,
		resultCap:     resultCap,
		limit:         limit,
		multipliers:   multipliers,
	}
}

// collect runs call once per subsystem concurrently and fills one result or
// one failure per slot, preserving subsystem order. The closures always
// return nil to the errgroup so no sibling is ever cancelled.
func collect[T any](ctx context.Context, limit int, phase model.Phase, subs []Subsystem, call func(context.Context, Subsystem) (T, error)) (results []T, failures []error) {
	results = make([]T, len(subs))
	failures = make([]error, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, sub := range subs {
		g.Go(func() error {
			out, err := call(gctx, sub)
			if err != nil {
				failures[i] = &model.SubsystemError{Subsystem: sub.Name(), Phase: phase, Err: err}
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results, failures
}

// compact drops the nil slots from a slot-aligned failure list.
func compact(failures []error) []error {
	var errs []error
	for _, err := range failures {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Discover fans out the discover call, then deduplicates, filters, ranks,
// and truncates the merged opportunity set. Output is deterministic for
// identical inputs: dedup keeps the first occurrence and ties in rank break
// by insertion order.
func (f *FanOut) Discover(ctx context.Context, subs []Subsystem) ([]model.Opportunity, []error) {
	batches, failures := collect(ctx, f.limit, model.PhaseDiscover, subs,
		func(ctx context.Context, s Subsystem) ([]model.Opportunity, error) {
			return s.Discover(ctx)
		})

	merged := make([]model.Opportunity, 0)
	seen := make(map[string]bool)
	for _, batch := range batches {
		for _, opp := range batch {
			key := opp.ID.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, opp)
		}
	}
	return f.rank(merged), compact(failures)
}

// rank filters out low-signal opportunities, scores the survivors, and
// returns the top resultCap by composite rank, stable-sorted descending.
// Rank = confidence x normalized estimated yield x kind multiplier.
func (f *FanOut) rank(opps []model.Opportunity) []model.Opportunity {
	kept := make([]model.Opportunity, 0, len(opps))
	var maxYield model.Amount
	for _, opp := range opps {
		if opp.Confidence < f.minConfidence || opp.Score < f.minScore {
			continue
		}
		kept = append(kept, opp)
		if opp.EstimatedYield > maxYield {
			maxYield = opp.EstimatedYield
		}
	}

	rankOf := func(opp model.Opportunity) float64 {
		normalized := 0.0
		if maxYield > 0 {
			normalized = opp.EstimatedYield.Float64() / maxYield.Float64()
		}
		mult := 1.0
		if m, ok := f.multipliers[opp.Kind]; ok {
			mult = m
		}
		return opp.Confidence * normalized * mult
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return rankOf(kept[i]) > rankOf(kept[j])
	})
	if len(kept) > f.resultCap {
		kept = kept[:f.resultCap]
	}
	return kept
}

// Analyze fans out the analyze call and merges the returned snapshots:
// per-kind momentum is averaged across reporting subsystems, notes merge
// with later subsystems winning.
func (f *FanOut) Analyze(ctx context.Context, subs []Subsystem) (model.TrendSnapshot, []error) {
	snaps, failures := collect(ctx, f.limit, model.PhaseAnalyze, subs,
		func(ctx context.Context, s Subsystem) (model.TrendSnapshot, error) {
			return s.Analyze(ctx)
		})

	merged := model.TrendSnapshot{}
	sums := make(map[model.OpportunityKind]float64)
	counts := make(map[model.OpportunityKind]int)
	for i, snap := range snaps {
		if failures[i] != nil {
			continue
		}
		if snap.SampledAt.After(merged.SampledAt) {
			merged.SampledAt = snap.SampledAt
		}
		for kind, v := range snap.Momentum {
			sums[kind] += v
			counts[kind]++
		}
		for k, v := range snap.Notes {
			if merged.Notes == nil {
				merged.Notes = make(map[string]string)
			}
			merged.Notes[k] = v
		}
	}
	if len(sums) > 0 {
		merged.Momentum = make(map[model.OpportunityKind]float64, len(sums))
		for kind, sum := range sums {
			merged.Momentum[kind] = sum / float64(counts[kind])
		}
	}
	return merged, compact(failures)
}

// Provision fans out the provision call. A nil opportunity slice means
// "ensure minimum footprint" (the reconcile phase).
func (f *FanOut) Provision(ctx context.Context, phase model.Phase, subs []Subsystem, opps []model.Opportunity) ([]model.ProvisionResult, []error) {
	results, failures := collect(ctx, f.limit, phase, subs,
		func(ctx context.Context, s Subsystem) (model.ProvisionResult, error) {
			return s.Provision(ctx, opps)
		})

	kept := make([]model.ProvisionResult, 0, len(results))
	for i, res := range results {
		if failures[i] != nil {
			continue
		}
		kept = append(kept, res)
	}
	return kept, compact(failures)
}

// Execute fans out the yield-bearing call and sums the reported amounts.
// Failed subsystems contribute neither yield nor a result entry.
func (f *FanOut) Execute(ctx context.Context, subs []Subsystem, opps []model.Opportunity, trends model.TrendSnapshot) (model.Amount, []model.YieldResult, []error) {
	results, failures := collect(ctx, f.limit, model.PhaseExecute, subs,
		func(ctx context.Context, s Subsystem) (model.YieldResult, error) {
			return s.Execute(ctx, opps, trends)
		})

	var total model.Amount
	kept := make([]model.YieldResult, 0, len(results))
	for i, res := range results {
		if failures[i] != nil {
			continue
		}
		total = total.Add(res.Amount)
		kept = append(kept, res)
	}
	return total, kept, compact(failures)
}

// Experiment fans out the experimentation call; only errors come back.
func (f *FanOut) Experiment(ctx context.Context, subs []Subsystem, opps []model.Opportunity, trends model.TrendSnapshot) []error {
	_, failures := collect(ctx, f.limit, model.PhaseExperiments, subs,
		func(ctx context.Context, s Subsystem) (struct{}, error) {
			return struct{}{}, s.Experiment(ctx, opps, trends)
		})
	return compact(failures)
}
