// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// Config controls the Postgres connection pool used for run history.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on a crawl_runs table.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	source        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	pages         BIGINT NOT NULL DEFAULT 0,
	identifiers   BIGINT NOT NULL DEFAULT 0,
	fetched       BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	skipped       BIGINT NOT NULL DEFAULT 0,
	exported      BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS crawl_runs_started_at_idx ON crawl_runs (started_at DESC);`

const runColumns = `id, source, started_at, finished_at, status,
	pages, identifiers, fetched, failed, skipped, exported, error_message`

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool wraps an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the crawl_runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure crawl_runs schema: %w", err)
	}
	return nil
}

// StartRun inserts the run as running; a replayed start leaves the row alone.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, source string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, source, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, runID, source, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run start: %w", err)
	}
	return nil
}

// AddRunStats increments the run counters by delta.
func (s *RunStore) AddRunStats(ctx context.Context, runID uuid.UUID, delta store.RunStats) error {
	if delta.IsZero() {
		return nil
	}
	query := `
		UPDATE crawl_runs
		SET pages = pages + $1,
			identifiers = identifiers + $2,
			fetched = fetched + $3,
			failed = failed + $4,
			skipped = skipped + $5
		WHERE id = $6;`
	res, err := s.pool.Exec(ctx, query,
		delta.Pages, delta.Identifiers, delta.Fetched, delta.Failed, delta.Skipped, runID)
	if err != nil {
		return fmt.Errorf("update run stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("update run stats %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	exported int64,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, exported = $3, error_message = $4
		WHERE id = $5;`
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), exported, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// GetRun loads a single run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter any
	if status != nil {
		filter = string(*status)
	}
	query := `SELECT ` + runColumns + `
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Stats.Pages,
		&run.Stats.Identifiers,
		&run.Stats.Fetched,
		&run.Stats.Failed,
		&run.Stats.Skipped,
		&run.Exported,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err //nolint:wrapcheck // callers add context
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
