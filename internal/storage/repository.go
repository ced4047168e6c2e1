package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRunSQL = `INSERT INTO harvest_runs (
        chain,
        started_at,
        finished_at,
        level,
        harvested,
        skipped,
        errors,
        profit_wei,
        report
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	listRunsBetweenSQL = `SELECT
        id,
        chain,
        started_at,
        finished_at,
        level,
        harvested,
        skipped,
        errors,
        profit_wei,
        report,
        created_at
    FROM harvest_runs
    WHERE started_at >= $1
      AND started_at < $2
    ORDER BY started_at;`

	listRecentRunsSQL = `SELECT
        id,
        chain,
        started_at,
        finished_at,
        level,
        harvested,
        skipped,
        errors,
        profit_wei,
        report,
        created_at
    FROM harvest_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	countRunsSQL = `SELECT COUNT(*) FROM harvest_runs;`

	deleteRunsBeforeSQL = `DELETE FROM harvest_runs WHERE created_at < $1;`
)

// RunStore defines operations for harvest run persistence.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) (RunRecord, error)
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to persisted harvest runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRun persists one finished chain pass.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.Chain,
		run.StartedAt,
		run.FinishedAt,
		run.Level,
		run.Harvested,
		run.Skipped,
		run.Errors,
		run.ProfitWei,
		[]byte(run.Report),
	)

	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return RunRecord{}, fmt.Errorf("insert harvest run: %w", scanErr)
	}
	return run, nil
}

// ListRunsBetween lists runs started within a time window.
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	defer rows.Close()

	return collectRuns(rows, 0)
}

// ListRecentRuns lists the most recent runs ordered by descending start.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	return collectRuns(rows, limit)
}

// CountRuns counts stored runs.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

// DeleteRunsBefore prunes historical runs.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete runs before: %w", execErr)
	}
	return nil
}

func collectRuns(rows pgx.Rows, capacity int) ([]RunRecord, error) {
	runs := make([]RunRecord, 0, capacity)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var run RunRecord
	if err := rows.Scan(
		&run.ID,
		&run.Chain,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Level,
		&run.Harvested,
		&run.Skipped,
		&run.Errors,
		&run.ProfitWei,
		&run.Report,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

var _ RunStore = (*Store)(nil)
