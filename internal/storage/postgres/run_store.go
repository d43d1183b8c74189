package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/wiki-character-crawler/internal/store"
)

const runColumns = `run_id, started_at, finished_at, status, error_message,
	listed, dropped, rejected, persisted, failed, pages, bytes_total`

// RunStore implements store.RunRepository on the crawl_runs table.
type RunStore struct {
	pool txPool

	schemaMu    sync.Mutex
	schemaReady bool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStoreWithPool wraps an existing pool (pgxpool.Pool or pgxmock).
func NewRunStoreWithPool(pool txPool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

func (s *RunStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	query := `CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status VARCHAR(16) NOT NULL,
	error_message TEXT,
	listed BIGINT NOT NULL DEFAULT 0,
	dropped BIGINT NOT NULL DEFAULT 0,
	rejected BIGINT NOT NULL DEFAULT 0,
	persisted BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	pages BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0
)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table crawl_runs: %w", err)
	}
	s.schemaReady = true
	return nil
}

// StartRun inserts runID as running. An existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := `
INSERT INTO crawl_runs (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun records the final status of runID.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := `
UPDATE crawl_runs
SET finished_at = $1, status = $2, error_message = $3
WHERE run_id = $4`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// AddCounts adds delta to the counters of runID. A run first seen here is
// inserted as running with startedAt set to at.
func (s *RunStore) AddCounts(ctx context.Context, runID string, delta store.RunCounts, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := `
INSERT INTO crawl_runs (
	run_id, started_at, status,
	listed, dropped, rejected, persisted, failed, pages, bytes_total
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id) DO UPDATE SET
	listed = crawl_runs.listed + EXCLUDED.listed,
	dropped = crawl_runs.dropped + EXCLUDED.dropped,
	rejected = crawl_runs.rejected + EXCLUDED.rejected,
	persisted = crawl_runs.persisted + EXCLUDED.persisted,
	failed = crawl_runs.failed + EXCLUDED.failed,
	pages = crawl_runs.pages + EXCLUDED.pages,
	bytes_total = crawl_runs.bytes_total + EXCLUDED.bytes_total`
	_, err := s.pool.Exec(ctx, query,
		runID, at, string(store.RunRunning),
		delta.Listed,
		delta.Dropped,
		delta.Rejected,
		delta.Persisted,
		delta.Failed,
		delta.Pages,
		delta.Bytes,
	)
	if err != nil {
		return fmt.Errorf("add counts to run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads runID or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.Run, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return store.Run{}, err
	}
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE run_id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first. A nil status lists every run.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query := `SELECT ` + runColumns + ` FROM crawl_runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
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
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.Counts.Listed,
		&run.Counts.Dropped,
		&run.Counts.Rejected,
		&run.Counts.Persisted,
		&run.Counts.Failed,
		&run.Counts.Pages,
		&run.Counts.Bytes,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
