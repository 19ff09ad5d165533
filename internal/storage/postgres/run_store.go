// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/batch-progress/internal/store"
)

// Schema creates the default batch_runs table.
//
//go:embed schema.sql
var Schema string

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wires a RunStore to an existing pool.
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "batch_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema applies Schema. It only applies to the default table name.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if s.table != "batch_runs" {
		return fmt.Errorf("schema only covers batch_runs, store uses %q", s.table)
	}
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run store.RunRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, label, total, processed, succeeded, failed, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`, s.table)
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Label,
		run.Total,
		run.Processed,
		run.Succeeded,
		run.Failed,
		string(run.Status),
		run.StartedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordSnapshot overwrites the counters of a running row. Snapshots older than
// the stored one are ignored.
func (s *RunStore) RecordSnapshot(ctx context.Context, runID uuid.UUID, snap store.Snapshot) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET label = $1, processed = $2, succeeded = $3, failed = $4, status = $5, updated_at = $6
		WHERE id = $7 AND updated_at <= $6;
	`, s.table)
	_, err := s.pool.Exec(ctx, query,
		snap.Label,
		snap.Processed,
		snap.Succeeded,
		snap.Failed,
		string(snap.Status),
		snap.At,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// CompleteRun marks the run done.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	label string,
	finishedAt time.Time,
	reportURI *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET label = $1, status = $2, finished_at = $3, updated_at = $3, report_uri = $4
		WHERE id = $5;
	`, s.table)
	res, err := s.pool.Exec(ctx, query, label, string(store.RunDone), finishedAt, reportURI, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1;
	`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, runColumns, s.table)
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]store.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return runs, nil
}

const runColumns = "id::text, label, total, processed, succeeded, failed, status, started_at, updated_at, finished_at, report_uri"

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var (
		run    store.RunRecord
		id     string
		status string
	)
	if err := row.Scan(
		&id,
		&run.Label,
		&run.Total,
		&run.Processed,
		&run.Succeeded,
		&run.Failed,
		&status,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&run.ReportURI,
	); err != nil {
		return store.RunRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = parsed
	run.Status = store.RunStatus(status)
	return run, nil
}
