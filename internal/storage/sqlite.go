package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meridianlabs/meridian/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS aggregate (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	total_yield_cents INTEGER NOT NULL,
	total_cycles      INTEGER NOT NULL,
	started_at        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
	cycle_number  INTEGER PRIMARY KEY,
	started_at    TEXT NOT NULL,
	duration_us   INTEGER NOT NULL,
	opportunities INTEGER NOT NULL,
	yield_cents   INTEGER NOT NULL,
	phase_errors  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS activity (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                TEXT NOT NULL,
	kind              TEXT NOT NULL,
	cycle_number      INTEGER NOT NULL,
	total_yield_cents INTEGER NOT NULL,
	payload           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS milestones (
	threshold_cents INTEGER PRIMARY KEY,
	label           TEXT NOT NULL,
	reached_at      TEXT NOT NULL
);
`

// SQLiteBackend is the embedded store used when no DATABASE_URL is set.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the SQLite store at path.
// Use ":memory:" for an ephemeral store in tests.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %q: %w", path, err)
	}
	// A single connection serializes writers and keeps an in-memory DSN
	// pointing at one database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return &SQLiteBackend{db: db, logger: logger}, nil
}

func (s *SQLiteBackend) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("storage: write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("storage: read schema version: %w", err)
	default:
		v, err := strconv.Atoi(raw)
		if err != nil || v > schemaVersion {
			return fmt.Errorf("storage: store written by newer schema version %q", raw)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO aggregate (id, total_yield_cents, total_cycles, started_at)
		 VALUES (1, 0, 0, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: seed aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) LoadAggregate(ctx context.Context) (model.AggregateState, error) {
	var (
		agg       model.AggregateState
		yield     int64
		startedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT total_yield_cents, total_cycles, started_at FROM aggregate WHERE id = 1`).
		Scan(&yield, &agg.TotalCycles, &startedAt)
	if err != nil {
		return model.AggregateState{}, fmt.Errorf("storage: load aggregate: %w", err)
	}
	agg.TotalYield = model.AmountFromCents(yield)
	agg.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return model.AggregateState{}, fmt.Errorf("storage: parse aggregate started_at: %w", err)
	}
	agg.MilestonesReached, err = s.Milestones(ctx)
	if err != nil {
		return model.AggregateState{}, err
	}
	return agg, nil
}

func (s *SQLiteBackend) SaveAggregate(ctx context.Context, agg model.AggregateState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE aggregate SET total_yield_cents = ?, total_cycles = ? WHERE id = 1`,
		agg.TotalYield.Cents(), agg.TotalCycles)
	if err != nil {
		return fmt.Errorf("storage: save aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) AppendCycle(ctx context.Context, rec model.CycleRecord, cap int) error {
	phaseErrs, err := encodePhaseErrors(rec.PhaseErrors)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append cycle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycles
		 (cycle_number, started_at, duration_us, opportunities, yield_cents, phase_errors)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CycleNumber,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Duration.Microseconds(),
		rec.OpportunitiesFound,
		rec.YieldAmount.Cents(),
		phaseErrs)
	if err != nil {
		return fmt.Errorf("storage: insert cycle: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM cycles WHERE cycle_number NOT IN
		 (SELECT cycle_number FROM cycles ORDER BY cycle_number DESC LIMIT ?)`, cap)
	if err != nil {
		return fmt.Errorf("storage: trim cycles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit append cycle: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) RecentCycles(ctx context.Context, limit int) ([]model.CycleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_number, started_at, duration_us, opportunities, yield_cents, phase_errors
		 FROM cycles ORDER BY cycle_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query cycles: %w", err)
	}
	defer rows.Close()

	var recs []model.CycleRecord
	for rows.Next() {
		var (
			rec        model.CycleRecord
			startedAt  string
			durationUS int64
			yield      int64
			phaseErrs  string
		)
		if err := rows.Scan(&rec.CycleNumber, &startedAt, &durationUS,
			&rec.OpportunitiesFound, &yield, &phaseErrs); err != nil {
			return nil, fmt.Errorf("storage: scan cycle: %w", err)
		}
		rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: parse cycle started_at: %w", err)
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

func (s *SQLiteBackend) AppendActivity(ctx context.Context, ev model.ActivityEvent, cap int) error {
	payload, err := encodePayload(ev.Payload)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append activity: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activity (ts, kind, cycle_number, total_yield_cents, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Kind), ev.CycleNumber, ev.TotalYield.Cents(), payload)
	if err != nil {
		return fmt.Errorf("storage: insert activity: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM activity WHERE id NOT IN
		 (SELECT id FROM activity ORDER BY id DESC LIMIT ?)`, cap)
	if err != nil {
		return fmt.Errorf("storage: trim activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit append activity: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, kind, cycle_number, total_yield_cents, payload
		 FROM activity ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query activity: %w", err)
	}
	defer rows.Close()

	var evs []model.ActivityEvent
	for rows.Next() {
		var (
			ev      model.ActivityEvent
			ts      string
			kind    string
			yield   int64
			payload string
		)
		if err := rows.Scan(&ts, &kind, &ev.CycleNumber, &yield, &payload); err != nil {
			return nil, fmt.Errorf("storage: scan activity: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("storage: parse activity ts: %w", err)
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

func (s *SQLiteBackend) SaveMilestone(ctx context.Context, ev model.MilestoneEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO milestones (threshold_cents, label, reached_at) VALUES (?, ?, ?)`,
		ev.Milestone.Threshold.Cents(), ev.Milestone.Label,
		ev.ReachedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: save milestone: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Milestones(ctx context.Context) ([]model.Amount, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteBackend) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`UPDATE aggregate SET total_yield_cents = 0, total_cycles = 0 WHERE id = 1`,
		`DELETE FROM cycles`,
		`DELETE FROM activity`,
		`DELETE FROM milestones`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: reset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit reset: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteBackend) Close(context.Context) error {
	return s.db.Close()
}
