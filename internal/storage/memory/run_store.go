package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/batch-progress/internal/store"
)

// RunStore is an in-memory store.RunRepository for development and tests.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.RunRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.RunRecord)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// RecordSnapshot overwrites the counters of a run. Snapshots older than the
// stored one are ignored.
func (s *RunStore) RecordSnapshot(_ context.Context, runID uuid.UUID, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	if snap.At.Before(run.UpdatedAt) {
		return nil
	}
	run.Label = snap.Label
	run.Processed = snap.Processed
	run.Succeeded = snap.Succeeded
	run.Failed = snap.Failed
	run.Status = snap.Status
	run.UpdatedAt = snap.At
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run done.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	label string,
	finishedAt time.Time,
	reportURI *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Label = label
	run.Status = store.RunDone
	run.FinishedAt = &finishedAt
	run.UpdatedAt = finishedAt
	if reportURI != nil {
		uri := *reportURI
		run.ReportURI = &uri
	}
	s.runs[runID] = run
	return nil
}

// GetRun returns a copy of one run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	s.mu.RLock()
	matched := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		matched = append(matched, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if offset >= len(matched) {
		return []store.RunRecord{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneRun(run store.RunRecord) store.RunRecord {
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	if run.ReportURI != nil {
		u := *run.ReportURI
		run.ReportURI = &u
	}
	return run
}
