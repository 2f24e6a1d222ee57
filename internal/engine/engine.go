// Package engine implements the cycle engine: a single-threaded cooperative
// loop that sequences the fixed phase order, fans work out to registered
// subsystems, and accounts results through the metrics store.
//
// Failure isolation is three-tiered. A subsystem failure is captured by the
// fan-out coordinator and excluded from its phase's results. A phase failure
// is recorded in the cycle record and the remaining phases still run. An
// error escaping a whole cycle is caught in RunForever, which sleeps a
// cooldown and continues. Nothing short of Stop terminates the loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/telemetry"
)

// Timing groups the engine's sleep intervals. Tests shrink these to
// milliseconds; production values come from config.
type Timing struct {
	CycleInterval time.Duration // between completed cycles
	PausePoll     time.Duration // re-check interval while paused
	ErrorCooldown time.Duration // after an error escapes a cycle
}

// Engine owns the cycle loop and its state machine:
// Uninitialized -> Bootstrapping -> Running <-> Paused -> Stopping -> Stopped.
type Engine struct {
	registry *Registry
	store    *metrics.Store
	fanout   *FanOut
	ladder   []model.Milestone
	timing   Timing
	logger   *slog.Logger

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	bootMu   sync.Mutex
	booted   bool
	detector *metrics.MilestoneDetector

	cacheMu       sync.Mutex
	opportunities []model.Opportunity
	trends        model.TrendSnapshot

	cyclesRun     metric.Int64Counter
	phaseErrors   metric.Int64Counter
	subsysErrors  metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// New assembles an engine. Call Bootstrap (or let RunForever do it) before
// the first cycle.
func New(registry *Registry, store *metrics.Store, fanout *FanOut, ladder []model.Milestone, timing Timing, logger *slog.Logger) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		fanout:   fanout,
		ladder:   ladder,
		timing:   timing,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.state.Store(int32(model.StateUninitialized))

	meter := telemetry.Meter("meridian/engine")
	e.cyclesRun, _ = meter.Int64Counter("meridian.cycles_run",
		metric.WithDescription("Cycles completed by this process"))
	e.phaseErrors, _ = meter.Int64Counter("meridian.phase_errors",
		metric.WithDescription("Phase-level failures recorded into cycle records"))
	e.subsysErrors, _ = meter.Int64Counter("meridian.subsystem_errors",
		metric.WithDescription("Isolated subsystem invocation failures"))
	e.cycleDuration, _ = meter.Float64Histogram("meridian.cycle_duration_seconds",
		metric.WithDescription("Wall-clock duration of completed cycles"))
	return e
}

// State returns the current engine state.
func (e *Engine) State() model.EngineState {
	return model.EngineState(e.state.Load())
}

func (e *Engine) setState(s model.EngineState) {
	e.state.Store(int32(s))
}

// transition moves from one state to another atomically; returns false if
// the engine was not in the from state.
func (e *Engine) transition(from, to model.EngineState) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// Bootstrap initializes the metrics store and the milestone detector.
// Idempotent: a second call returns immediately and never duplicates the
// initial records.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.bootMu.Lock()
	defer e.bootMu.Unlock()
	if e.booted {
		return nil
	}

	e.transition(model.StateUninitialized, model.StateBootstrapping)
	if err := e.store.Bootstrap(ctx); err != nil {
		e.setState(model.StateUninitialized)
		return fmt.Errorf("engine: bootstrap: %w", err)
	}

	snap := e.store.Snapshot()
	e.detector = metrics.NewMilestoneDetector(e.ladder, snap.MilestonesReached)

	e.store.AppendActivity(ctx, model.ActivityEvent{
		Kind:        model.ActivityBootstrap,
		CycleNumber: snap.TotalCycles,
		Payload: map[string]string{
			"subsystems": fmt.Sprint(len(e.registry.Names())),
			"milestones": fmt.Sprint(len(e.ladder)),
		},
	})

	e.booted = true
	e.transition(model.StateBootstrapping, model.StateRunning)
	e.logger.Info("engine bootstrapped",
		"total_cycles", snap.TotalCycles,
		"total_yield", snap.TotalYield.String(),
		"subsystems", e.registry.Names())
	return nil
}

// RunForever drives the cycle loop until Stop is called or ctx is cancelled.
// An error escaping a single cycle is logged and followed by a cooldown
// sleep; it never terminates the loop.
func (e *Engine) RunForever(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	defer func() {
		e.setState(model.StateStopped)
		close(e.done)
		e.logger.Info("engine stopped")
	}()

	for {
		if ctx.Err() != nil || e.State() == model.StateStopping {
			return nil
		}
		if e.State() == model.StatePaused {
			e.sleep(ctx, e.timing.PausePoll)
			continue
		}

		if err := e.RunCycle(ctx); err != nil {
			e.logger.Error("cycle escaped phase isolation", "error", err)
			e.sleep(ctx, e.timing.ErrorCooldown)
			continue
		}
		e.sleep(ctx, e.timing.CycleInterval)
	}
}

// Done is closed after RunForever has fully exited and the final cycle was
// recorded.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Pause suspends cycle scheduling at the next phase boundary. Safe to call
// from the control surface at any time; a cycle already in flight completes.
func (e *Engine) Pause(ctx context.Context) {
	if e.transition(model.StateRunning, model.StatePaused) {
		e.logger.Info("engine paused")
		e.store.AppendActivity(ctx, model.ActivityEvent{Kind: model.ActivityPaused})
	}
}

// Resume lets the next scheduled cycle proceed.
func (e *Engine) Resume(ctx context.Context) {
	if e.transition(model.StatePaused, model.StateRunning) {
		e.logger.Info("engine resumed")
		e.store.AppendActivity(ctx, model.ActivityEvent{Kind: model.ActivityResumed})
	}
}

// Stop requests a graceful stop. In-flight subsystem calls are allowed to
// finish and the current cycle is finalized and recorded before the loop
// exits.
func (e *Engine) Stop(ctx context.Context) {
	prev := e.State()
	if prev == model.StateStopping || prev == model.StateStopped {
		return
	}
	e.setState(model.StateStopping)
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.logger.Info("engine stopping")
	e.store.AppendActivity(ctx, model.ActivityEvent{Kind: model.ActivityStopped})
}

// Reset is the administrative reset: totals, histories, reached milestones,
// and the detector's reached-set are cleared.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	e.bootMu.Lock()
	if e.detector != nil {
		e.detector.Reset()
	}
	e.bootMu.Unlock()
	e.store.AppendActivity(ctx, model.ActivityEvent{Kind: model.ActivityReset})
	e.logger.Warn("administrative reset performed")
	return nil
}

// Store exposes the metrics store to the control surface.
func (e *Engine) Store() *metrics.Store { return e.store }

// CachedOpportunities returns the most recent cycle's ranked opportunity
// set. Read-only view for the control surface.
func (e *Engine) CachedOpportunities() []model.Opportunity {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return append([]model.Opportunity(nil), e.opportunities...)
}

// CachedTrends returns the most recent cycle's merged trend snapshot. The
// zero snapshot (SampledAt unset) means no analyze phase has completed yet.
func (e *Engine) CachedTrends() model.TrendSnapshot {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.trends
}

// SubsystemStatuses collects each registered subsystem's self-reported
// status, keyed by name. A failing subsystem contributes its error message
// instead; the failure is isolated like any other subsystem failure.
func (e *Engine) SubsystemStatuses(ctx context.Context) map[string]map[string]string {
	subs := e.registry.Subsystems()
	if len(subs) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(subs))
	for _, sub := range subs {
		st, err := sub.Status(ctx)
		if err != nil {
			e.logger.Warn("subsystem status failed", "subsystem", sub.Name(), "error", err)
			out[sub.Name()] = map[string]string{"error": err.Error()}
			continue
		}
		out[sub.Name()] = st
	}
	return out
}

// sleep waits for d unless the context is cancelled or Stop is requested.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-e.stopCh:
	case <-t.C:
	}
}
