// Package metrics owns the process-wide aggregate state: cumulative totals,
// the bounded cycle history, and the bounded activity log.
//
// The store is the only component that mutates AggregateState. The engine
// loop writes through RecordCycle/AppendActivity; the control surface reads
// through Snapshot and the Recent* methods at any time, so every access is
// serialized behind one mutex and reads copy before returning.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/internal/telemetry"
)

// Store holds the aggregate, bounded histories, and the persistence
// write-through. Construct with New, then call Bootstrap before use.
type Store struct {
	backend     storage.Backend
	logger      *slog.Logger
	historyCap  int
	activityCap int
	finalGoal   model.Amount // last milestone threshold, for progress percent

	mu           sync.Mutex
	agg          model.AggregateState
	cycles       []model.CycleRecord   // chronological, len <= historyCap
	activity     []model.ActivityEvent // chronological ring, len <= activityCap
	bootstrapped bool
}

// New creates a Store backed by the given persistence backend.
func New(backend storage.Backend, logger *slog.Logger, historyCap, activityCap int, milestones []model.Milestone) *Store {
	var goal model.Amount
	if len(milestones) > 0 {
		goal = milestones[len(milestones)-1].Threshold
	}
	return &Store{
		backend:     backend,
		logger:      logger,
		historyCap:  historyCap,
		activityCap: activityCap,
		finalGoal:   goal,
	}
}

// Bootstrap creates the schema if needed and loads the persisted aggregate
// and histories. Idempotent: a second call is a no-op and never duplicates
// the initial records.
func (s *Store) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootstrapped {
		return nil
	}

	if err := s.backend.Bootstrap(ctx); err != nil {
		return fmt.Errorf("metrics: bootstrap backend: %w", err)
	}
	agg, err := s.backend.LoadAggregate(ctx)
	if err != nil {
		return fmt.Errorf("metrics: load aggregate: %w", err)
	}
	cycles, err := s.backend.RecentCycles(ctx, s.historyCap)
	if err != nil {
		return fmt.Errorf("metrics: load cycle history: %w", err)
	}
	activity, err := s.backend.RecentActivity(ctx, s.activityCap)
	if err != nil {
		return fmt.Errorf("metrics: load activity: %w", err)
	}

	s.agg = agg
	s.cycles = reverse(cycles)     // backend returns newest first
	s.activity = reverse(activity) // same
	s.bootstrapped = true
	s.registerGauges()

	s.logger.Info("metrics store ready",
		"total_cycles", agg.TotalCycles,
		"total_yield", agg.TotalYield.String(),
		"milestones_reached", len(agg.MilestonesReached))
	return nil
}

// RecordCycle finalizes one cycle: appends it to the bounded history,
// increments the cycle counter, and adds its yield to the running total.
// Persistence failures are logged, not returned — the in-memory aggregate is
// the source of truth for a running engine.
func (s *Store) RecordCycle(ctx context.Context, rec model.CycleRecord) {
	s.mu.Lock()
	s.cycles = append(s.cycles, rec)
	if len(s.cycles) > s.historyCap {
		s.cycles = s.cycles[len(s.cycles)-s.historyCap:]
	}
	s.agg.TotalCycles++
	s.agg.TotalYield = s.agg.TotalYield.Add(rec.YieldAmount)
	agg := s.agg
	s.mu.Unlock()

	if err := s.backend.AppendCycle(ctx, rec, s.historyCap); err != nil {
		s.logger.Error("metrics: persist cycle", "cycle", rec.CycleNumber, "error", err)
	}
	if err := s.backend.SaveAggregate(ctx, agg); err != nil {
		s.logger.Error("metrics: persist aggregate", "error", err)
	}
}

// AppendActivity pushes an event into the bounded activity log (FIFO
// eviction) and persists it.
func (s *Store) AppendActivity(ctx context.Context, ev model.ActivityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	ev.TotalYield = s.agg.TotalYield
	s.activity = append(s.activity, ev)
	if len(s.activity) > s.activityCap {
		s.activity = s.activity[len(s.activity)-s.activityCap:]
	}
	s.mu.Unlock()

	if err := s.backend.AppendActivity(ctx, ev, s.activityCap); err != nil {
		s.logger.Error("metrics: persist activity", "kind", ev.Kind, "error", err)
	}
}

// MarkMilestone records a crossed threshold into the aggregate and persists it.
func (s *Store) MarkMilestone(ctx context.Context, ev model.MilestoneEvent) {
	s.mu.Lock()
	s.agg.MilestonesReached = append(s.agg.MilestonesReached, ev.Milestone.Threshold)
	s.mu.Unlock()

	if err := s.backend.SaveMilestone(ctx, ev); err != nil {
		s.logger.Error("metrics: persist milestone", "label", ev.Milestone.Label, "error", err)
	}
}

// TotalYield returns the current running total.
func (s *Store) TotalYield() model.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.TotalYield
}

// Snapshot returns an immutable copy of the aggregate plus derived rates.
// Safe to call concurrently with RecordCycle; the snapshot is internally
// consistent, never a partially updated aggregate.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := model.Snapshot{
		AggregateState: s.agg,
		ActivityDepth:  len(s.activity),
	}
	snap.MilestonesReached = append([]model.Amount(nil), s.agg.MilestonesReached...)
	if len(s.cycles) > 0 {
		last := s.cycles[len(s.cycles)-1]
		last.PhaseErrors = append([]model.PhaseError(nil), last.PhaseErrors...)
		snap.LastCycle = &last
	}
	if !s.agg.StartedAt.IsZero() {
		snap.Uptime = time.Since(s.agg.StartedAt)
	}
	if hours := snap.Uptime.Hours(); hours > 0 {
		snap.YieldPerHour = s.agg.TotalYield.Float64() / hours
	}
	if s.agg.TotalCycles > 0 {
		snap.YieldPerCycle = s.agg.TotalYield.Float64() / float64(s.agg.TotalCycles)
	}
	if s.finalGoal > 0 {
		snap.TargetProgress = s.agg.TotalYield.Float64() / s.finalGoal.Float64() * 100
	}
	return snap
}

// RecentCycles returns up to limit records, newest first.
func (s *Store) RecentCycles(limit int) []model.CycleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.cycles, limit)
}

// RecentActivity returns up to limit events, newest first.
func (s *Store) RecentActivity(limit int) []model.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.activity, limit)
}

// Reset is the administrative reset: totals, histories, and reached
// milestones are cleared in memory and in the backend. The engine start time
// survives.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.agg.TotalYield = 0
	s.agg.TotalCycles = 0
	s.agg.MilestonesReached = nil
	s.cycles = nil
	s.activity = nil
	s.mu.Unlock()

	if err := s.backend.Reset(ctx); err != nil {
		return fmt.Errorf("metrics: reset backend: %w", err)
	}
	return nil
}

func (s *Store) registerGauges() {
	meter := telemetry.Meter("meridian/metrics")

	_, _ = meter.Int64ObservableGauge("meridian.total_cycles",
		metric.WithDescription("Completed cycles since first bootstrap"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			o.Observe(int64(s.agg.TotalCycles))
			return nil
		}))

	_, _ = meter.Int64ObservableGauge("meridian.total_yield_cents",
		metric.WithDescription("Cumulative yield in cents"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			o.Observe(s.agg.TotalYield.Cents())
			return nil
		}))

	_, _ = meter.Int64ObservableGauge("meridian.activity_depth",
		metric.WithDescription("Entries currently held in the activity log"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			o.Observe(int64(len(s.activity)))
			return nil
		}))
}

func reverse[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// newestFirst copies up to limit elements from a chronological slice,
// newest first.
func newestFirst[T any](in []T, limit int) []T {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]T, 0, limit)
	for i := len(in) - 1; i >= len(in)-limit; i-- {
		out = append(out, in[i])
	}
	return out
}
