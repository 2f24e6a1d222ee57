// Package meridian is the public API for embedding the Meridian revenue engine.
//
// Consumers import this package to construct and run the engine with their
// own subsystems:
//
//	app, err := meridian.New(
//	    meridian.WithVersion(version),
//	    meridian.WithLogger(logger),
//	    meridian.WithSubsystem(mySubsystem, meridian.PhaseDiscover, meridian.PhaseExecute),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: meridian (root) imports
// internal/*, but internal/* never imports meridian (root). Public types
// (Opportunity, TrendSnapshot, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package meridian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/meridianlabs/meridian/internal/auth"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/mcp"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/server"
	"github.com/meridianlabs/meridian/internal/storage"
	"github.com/meridianlabs/meridian/internal/telemetry"
)

// App is the Meridian engine lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	backend      storage.Backend
	eng          *engine.Engine
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	// loopStarted records whether RunForever was launched; Shutdown only
	// waits on Done() when the loop actually ran, so a failed bootstrap
	// returns without sitting out the stop timeout.
	loopStarted atomic.Bool
}

// New initialises the engine. It opens the store, wires all subsystems, and
// returns a ready-to-run App. It does NOT start any goroutines or accept
// HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.configFile != "" {
		cfg.ConfigFile = o.configFile
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("meridian starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the store.
	backend, err := storage.Open(context.Background(), cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Operator file: milestone ladder and kind multipliers. WithMilestones
	// takes priority over the file, which takes priority over the built-ins.
	ladder, multipliers, err := config.LoadOperatorFile(cfg.ConfigFile)
	if err != nil {
		_ = backend.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("operator file: %w", err)
	}
	if len(o.milestones) > 0 {
		ladder = make([]model.Milestone, len(o.milestones))
		for i, m := range o.milestones {
			ladder[i] = model.Milestone{Threshold: model.AmountFromCents(m.ThresholdCents), Label: m.Label}
		}
	}

	// Metrics store.
	store := metrics.New(backend, logger, cfg.HistoryCap, cfg.ActivityCap, ladder)

	// Fan-out coordinator.
	fanout := engine.NewFanOut(logger, cfg.MinConfidence, cfg.MinScore, cfg.ResultCap, cfg.FanOutLimit, multipliers)

	// Subsystem registry.
	registry := engine.NewRegistry()
	for _, reg := range o.subsystems {
		phases := make([]model.Phase, len(reg.phases))
		for i, p := range reg.phases {
			phases[i] = model.Phase(p)
		}
		if err := registry.Register(&subsystemAdapter{sub: reg.sub}, phases...); err != nil {
			_ = backend.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("register subsystem %q: %w", reg.sub.Name(), err)
		}
	}

	// Engine.
	eng := engine.New(registry, store, fanout, ladder, engine.Timing{
		CycleInterval: cfg.CycleInterval,
		PausePoll:     cfg.PausePoll,
		ErrorCooldown: cfg.ErrorCooldown,
	}, logger)

	// Operator key: stored hashed, verified per-request on mutating routes.
	var keyHash string
	if cfg.AdminAPIKey != "" {
		keyHash, err = auth.HashKey(cfg.AdminAPIKey)
		if err != nil {
			_ = backend.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("operator key: %w", err)
		}
	} else {
		logger.Warn("control surface auth disabled (no MERIDIAN_ADMIN_API_KEY)")
	}

	// MCP server.
	mcpSrv := mcp.New(eng, version, logger)

	// HTTP control surface.
	srv := server.New(server.ServerConfig{
		Engine:          eng,
		Backend:         backend,
		Logger:          logger,
		MCPServer:       mcpSrv.MCPServer(),
		OperatorKeyHash: keyHash,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		Version:         version,
	})

	return &App{
		cfg:          cfg,
		backend:      backend,
		eng:          eng,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Engine exposes the engine for tests and embedded callers.
func (a *App) Engine() *engine.Engine { return a.eng }

// Run bootstraps the engine, starts the cycle loop and the HTTP server, then
// blocks until ctx is cancelled, the engine stops, or a fatal server error
// occurs. On return, Shutdown is called automatically — callers should not
// call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if err := a.eng.Bootstrap(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	a.loopStarted.Store(true)
	go func() {
		if err := a.eng.RunForever(ctx); err != nil {
			a.logger.Error("cycle loop exited with error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal, engine stop, or server error.
	select {
	case <-ctx.Done():
	case <-a.eng.Done():
	case err := <-errCh:
		a.eng.Stop(context.Background())
		<-a.eng.Done()
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight, stop the cycle loop and wait for the final cycle to be
// recorded, then close the store and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("meridian shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.eng.Stop(context.Background())
	if a.loopStarted.Load() {
		select {
		case <-a.eng.Done():
		case <-time.After(30 * time.Second):
			a.logger.Error("cycle loop did not stop in time")
		}
	}

	_ = a.otelShutdown(context.Background())
	if err := a.backend.Close(context.Background()); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("meridian stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// subsystemAdapter wraps a public meridian.Subsystem to satisfy the internal
// engine.Subsystem contract. It converts public types to internal model
// types at the boundary.
type subsystemAdapter struct {
	sub Subsystem
}

func (a *subsystemAdapter) Name() string { return a.sub.Name() }

func (a *subsystemAdapter) Discover(ctx context.Context) ([]model.Opportunity, error) {
	opps, err := a.sub.Discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Opportunity, len(opps))
	for i, o := range opps {
		out[i] = toInternalOpportunity(o)
	}
	return out, nil
}

func (a *subsystemAdapter) Analyze(ctx context.Context) (model.TrendSnapshot, error) {
	t, err := a.sub.Analyze(ctx)
	if err != nil {
		return model.TrendSnapshot{}, err
	}
	return toInternalTrends(t), nil
}

func (a *subsystemAdapter) Provision(ctx context.Context, opps []model.Opportunity) (model.ProvisionResult, error) {
	res, err := a.sub.Provision(ctx, toPublicOpportunities(opps))
	if err != nil {
		return model.ProvisionResult{}, err
	}
	return model.ProvisionResult{Provisioned: res.Provisioned, Metadata: res.Metadata}, nil
}

func (a *subsystemAdapter) Execute(ctx context.Context, opps []model.Opportunity, trends model.TrendSnapshot) (model.YieldResult, error) {
	res, err := a.sub.Execute(ctx, toPublicOpportunities(opps), toPublicTrends(trends))
	if err != nil {
		return model.YieldResult{}, err
	}
	return model.YieldResult{Amount: model.AmountFromCents(res.AmountCents), Metadata: res.Metadata}, nil
}

func (a *subsystemAdapter) Experiment(ctx context.Context, opps []model.Opportunity, trends model.TrendSnapshot) error {
	return a.sub.Experiment(ctx, toPublicOpportunities(opps), toPublicTrends(trends))
}

func (a *subsystemAdapter) Status(ctx context.Context) (map[string]string, error) {
	return a.sub.Status(ctx)
}

// ── Type converters ────────────────────────────────────────────────────────────

// Provision may legitimately receive a nil slice (reconciliation); the nil
// is preserved so subsystems can tell the two calls apart.
func toPublicOpportunities(opps []model.Opportunity) []Opportunity {
	if opps == nil {
		return nil
	}
	out := make([]Opportunity, len(opps))
	for i, o := range opps {
		out[i] = Opportunity{
			ID:                  o.ID,
			Kind:                string(o.Kind),
			Score:               o.Score,
			EstimatedYieldCents: o.EstimatedYield.Cents(),
			Confidence:          o.Confidence,
		}
	}
	return out
}

func toInternalOpportunity(o Opportunity) model.Opportunity {
	return model.Opportunity{
		ID:             o.ID,
		Kind:           model.OpportunityKind(o.Kind),
		Score:          o.Score,
		EstimatedYield: model.AmountFromCents(o.EstimatedYieldCents),
		Confidence:     o.Confidence,
	}
}

func toPublicTrends(t model.TrendSnapshot) TrendSnapshot {
	out := TrendSnapshot{SampledAt: t.SampledAt, Notes: t.Notes}
	if t.Momentum != nil {
		out.Momentum = make(map[string]float64, len(t.Momentum))
		for k, v := range t.Momentum {
			out.Momentum[string(k)] = v
		}
	}
	return out
}

func toInternalTrends(t TrendSnapshot) model.TrendSnapshot {
	out := model.TrendSnapshot{SampledAt: t.SampledAt, Notes: t.Notes}
	if t.Momentum != nil {
		out.Momentum = make(map[model.OpportunityKind]float64, len(t.Momentum))
		for k, v := range t.Momentum {
			out.Momentum[model.OpportunityKind(k)] = v
		}
	}
	return out
}
