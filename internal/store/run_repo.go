package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the batch_runs status column.
type RunStatus string

// Run statuses persisted in batch_runs.status.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunRunning || s == RunDone
}

// RunRecord models the batch_runs table.
type RunRecord struct {
	ID        uuid.UUID
	Label     string
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Status    RunStatus
	StartedAt time.Time
	// UpdatedAt is the time of the most recent persisted snapshot.
	UpdatedAt time.Time
	// FinishedAt is nil until CompleteRun is called.
	FinishedAt *time.Time
	// ReportURI points to the archived summary report, if any.
	ReportURI *string
}

// Snapshot is the counter state written on every rendered update.
type Snapshot struct {
	Label     string
	Processed int
	Succeeded int
	Failed    int
	Status    RunStatus
	At        time.Time
}

// RunRepository persists batch run progress.
type RunRepository interface {
	// CreateRun inserts a new running record.
	CreateRun(ctx context.Context, run RunRecord) error
	// RecordSnapshot overwrites the counters of an existing run.
	RecordSnapshot(ctx context.Context, runID uuid.UUID, snap Snapshot) error
	// CompleteRun marks the run done with its final label and optional report.
	CompleteRun(ctx context.Context, runID uuid.UUID, label string, finishedAt time.Time, reportURI *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
}
