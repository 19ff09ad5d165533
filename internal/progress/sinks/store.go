package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/store"
)

// StoreSink persists every rendered payload as the latest snapshot of one
// run, then forwards the call unchanged. Persistence failures are logged and
// never change the render result.
type StoreSink struct {
	next   progress.RenderSink
	repo   store.RunRepository
	runID  uuid.UUID
	logger *zap.Logger
}

// NewStoreSink wraps next for the run identified by runID.
func NewStoreSink(next progress.RenderSink, repo store.RunRepository, runID uuid.UUID, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{next: next, repo: repo, runID: runID, logger: logger}
}

// InitialRender implements progress.RenderSink.
func (s *StoreSink) InitialRender(ctx context.Context, p progress.Payload) (progress.Target, error) {
	target, err := s.next.InitialRender(ctx, p)
	s.record(ctx, p)
	return target, err
}

// UpdateRender implements progress.RenderSink.
func (s *StoreSink) UpdateRender(ctx context.Context, target progress.Target, p progress.Payload) error {
	err := s.next.UpdateRender(ctx, target, p)
	s.record(ctx, p)
	return err
}

// FallbackNotify implements progress.RenderSink.
func (s *StoreSink) FallbackNotify(ctx context.Context, p progress.Payload) error {
	err := s.next.FallbackNotify(ctx, p)
	s.record(ctx, p)
	return err
}

func (s *StoreSink) record(ctx context.Context, p progress.Payload) {
	if s.repo == nil {
		return
	}
	status := store.RunRunning
	if p.Done() {
		status = store.RunDone
	}
	err := s.repo.RecordSnapshot(ctx, s.runID, store.Snapshot{
		Label:     p.Label,
		Processed: p.Processed,
		Succeeded: p.Succeeded,
		Failed:    p.Failed,
		Status:    status,
		At:        p.At,
	})
	if err != nil {
		s.logger.Warn("persist progress snapshot failed",
			zap.String("run_id", s.runID.String()),
			zap.Error(err),
		)
	}
}
