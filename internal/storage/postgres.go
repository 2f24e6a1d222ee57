package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianlabs/meridian/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS aggregate (
	id                INT PRIMARY KEY CHECK (id = 1),
	total_yield_cents BIGINT NOT NULL,
	total_cycles      BIGINT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
	cycle_number  BIGINT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	duration_us   BIGINT NOT NULL,
	opportunities INT NOT NULL,
	yield_cents   BIGINT NOT NULL,
	phase_errors  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS activity (
	id                BIGSERIAL PRIMARY KEY,
	ts                TIMESTAMPTZ NOT NULL,
	kind              TEXT NOT NULL,
	cycle_number      BIGINT NOT NULL,
	total_yield_cents BIGINT NOT NULL,
	payload           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS milestones (
	threshold_cents BIGINT PRIMARY KEY,
	label           TEXT NOT NULL,
	reached_at      TIMESTAMPTZ NOT NULL
);
`

const pgMaxRetries = 3
const pgRetryBase = 50 * time.Millisecond

// PostgresBackend stores metrics in Postgres via a pgx connection pool.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects a pool to dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return &PostgresBackend{pool: pool, logger: logger}, nil
}

func (p *PostgresBackend) Bootstrap(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}

	var raw string
	err := p.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := p.pool.Exec(ctx,
			`INSERT INTO meta (key, value) VALUES ('schema_version', $1)
			 ON CONFLICT (key) DO NOTHING`, strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("storage: write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("storage: read schema version: %w", err)
	default:
		v, convErr := strconv.Atoi(raw)
		if convErr != nil || v > schemaVersion {
			return fmt.Errorf("storage: store written by newer schema version %q", raw)
		}
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO aggregate (id, total_yield_cents, total_cycles, started_at)
		 VALUES (1, 0, 0, $1) ON CONFLICT (id) DO NOTHING`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: seed aggregate: %w", err)
	}
	return nil
}

func (p *PostgresBackend) LoadAggregate(ctx context.Context) (model.AggregateState, error) {
	var (
		agg   model.AggregateState
		yield int64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT total_yield_cents, total_cycles, started_at FROM aggregate WHERE id = 1`).
		Scan(&yield, &agg.TotalCycles, &agg.StartedAt)
	if err != nil {
		return model.AggregateState{}, fmt.Errorf("storage: load aggregate: %w", err)
	}
	agg.TotalYield = model.AmountFromCents(yield)
	agg.MilestonesReached, err = p.Milestones(ctx)
	if err != nil {
		return model.AggregateState{}, err
	}
	return agg, nil
}

func (p *PostgresBackend) SaveAggregate(ctx context.Context, agg model.AggregateState) error {
	return withRetry(ctx, pgMaxRetries, pgRetryBase, func() error {
		_, err := p.pool.Exec(ctx,
			`UPDATE aggregate SET total_yield_cents = $1, total_cycles = $2 WHERE id = 1`,
			agg.TotalYield.Cents(), agg.TotalCycles)
		if err != nil {
			return fmt.Errorf("storage: save aggregate: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) AppendCycle(ctx context.Context, rec model.CycleRecord, cap int) error {
	phaseErrs, err := encodePhaseErrors(rec.PhaseErrors)
	if err != nil {
		return err
	}
	return withRetry(ctx, pgMaxRetries, pgRetryBase, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin append cycle: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx,
			`INSERT INTO cycles
			 (cycle_number, started_at, duration_us, opportunities, yield_cents, phase_errors)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (cycle_number) DO UPDATE SET
			   started_at = EXCLUDED.started_at,
			   duration_us = EXCLUDED.duration_us,
			   opportunities = EXCLUDED.opportunities,
			   yield_cents = EXCLUDED.yield_cents,
			   phase_errors = EXCLUDED.phase_errors`,
			rec.CycleNumber, rec.StartedAt.UTC(), rec.Duration.Microseconds(),
			rec.OpportunitiesFound, rec.YieldAmount.Cents(), phaseErrs)
		if err != nil {
			return fmt.Errorf("storage: insert cycle: %w", err)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM cycles WHERE cycle_number NOT IN
			 (SELECT cycle_number FROM cycles ORDER BY cycle_number DESC LIMIT $1)`, cap)
		if err != nil {
			return fmt.Errorf("storage: trim cycles: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit append cycle: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) RecentCycles(ctx context.Context, limit int) ([]model.CycleRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT cycle_number, started_at, duration_us, opportunities, yield_cents, phase_errors
		 FROM cycles ORDER BY cycle_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query cycles: %w", err)
	}
	defer rows.Close()

	var recs []model.CycleRecord
	for rows.Next() {
		var (
			rec        model.CycleRecord
			durationUS int64
			yield      int64
			phaseErrs  string
		)
		if err := rows.Scan(&rec.CycleNumber, &rec.StartedAt, &durationUS,
			&rec.OpportunitiesFound, &yield, &phaseErrs); err != nil {
			return nil, fmt.Errorf("storage: scan cycle: %w", err)
		}
		rec.Duration = time.Duration(durationUS) * time.Microsecond
		rec.YieldAmount = model.AmountFromCents(yield)
		rec.PhaseErrors, err = decodePhaseErrors(phaseErrs)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *PostgresBackend) AppendActivity(ctx context.Context, ev model.ActivityEvent, cap int) error {
	payload, err := encodePayload(ev.Payload)
	if err != nil {
		return err
	}
	return withRetry(ctx, pgMaxRetries, pgRetryBase, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin append activity: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx,
			`INSERT INTO activity (ts, kind, cycle_number, total_yield_cents, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			ev.Timestamp.UTC(), string(ev.Kind), ev.CycleNumber, ev.TotalYield.Cents(), payload)
		if err != nil {
			return fmt.Errorf("storage: insert activity: %w", err)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM activity WHERE id NOT IN
			 (SELECT id FROM activity ORDER BY id DESC LIMIT $1)`, cap)
		if err != nil {
			return fmt.Errorf("storage: trim activity: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit append activity: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ts, kind, cycle_number, total_yield_cents, payload
		 FROM activity ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query activity: %w", err)
	}
	defer rows.Close()

	var evs []model.ActivityEvent
	for rows.Next() {
		var (
			ev      model.ActivityEvent
			kind    string
			yield   int64
			payload string
		)
		if err := rows.Scan(&ev.Timestamp, &kind, &ev.CycleNumber, &yield, &payload); err != nil {
			return nil, fmt.Errorf("storage: scan activity: %w", err)
		}
		ev.Kind = model.ActivityKind(kind)
		ev.TotalYield = model.AmountFromCents(yield)
		ev.Payload, err = decodePayload(payload)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

func (p *PostgresBackend) SaveMilestone(ctx context.Context, ev model.MilestoneEvent) error {
	return withRetry(ctx, pgMaxRetries, pgRetryBase, func() error {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO milestones (threshold_cents, label, reached_at)
			 VALUES ($1, $2, $3) ON CONFLICT (threshold_cents) DO NOTHING`,
			ev.Milestone.Threshold.Cents(), ev.Milestone.Label, ev.ReachedAt.UTC())
		if err != nil {
			return fmt.Errorf("storage: save milestone: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) Milestones(ctx context.Context) ([]model.Amount, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT threshold_cents FROM milestones ORDER BY threshold_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: query milestones: %w", err)
	}
	defer rows.Close()

	var reached []model.Amount
	for rows.Next() {
		var cents int64
		if err := rows.Scan(&cents); err != nil {
			return nil, fmt.Errorf("storage: scan milestone: %w", err)
		}
		reached = append(reached, model.AmountFromCents(cents))
	}
	return reached, rows.Err()
}

func (p *PostgresBackend) Reset(ctx context.Context) error {
	return withRetry(ctx, pgMaxRetries, pgRetryBase, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin reset: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, stmt := range []string{
			`UPDATE aggregate SET total_yield_cents = 0, total_cycles = 0 WHERE id = 1`,
			`DELETE FROM cycles`,
			`DELETE FROM activity`,
			`DELETE FROM milestones`,
		} {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("storage: reset: %w", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit reset: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresBackend) Close(context.Context) error {
	p.pool.Close()
	return nil
}
