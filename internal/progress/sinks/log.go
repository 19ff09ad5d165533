package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/progress"
)

// LogSink emits renders as structured logs. It is useful during development
// or when no chat endpoint is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the render sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// InitialRender logs the payload and returns a synthetic target.
func (s *LogSink) InitialRender(_ context.Context, p progress.Payload) (progress.Target, error) {
	target := progress.Target("log-" + uuid.NewString())
	s.logger.Info("progress created", payloadFields(target, p)...)
	return target, nil
}

// UpdateRender logs the payload against target.
func (s *LogSink) UpdateRender(_ context.Context, target progress.Target, p progress.Payload) error {
	s.logger.Info("progress updated", payloadFields(target, p)...)
	return nil
}

// FallbackNotify logs the payload with no target.
func (s *LogSink) FallbackNotify(_ context.Context, p progress.Payload) error {
	s.logger.Info("progress notice", payloadFields("", p)...)
	return nil
}

func payloadFields(target progress.Target, p progress.Payload) []zap.Field {
	fields := []zap.Field{
		zap.String("status", string(p.Status)),
		zap.String("label", p.Label),
		zap.Int("processed", p.Processed),
		zap.Int("total", p.Total),
		zap.Int("succeeded", p.Succeeded),
		zap.Int("failed", p.Failed),
		zap.Int("percent", p.Percent),
		zap.Duration("elapsed", p.Elapsed),
		zap.String("throughput", p.ThroughputString()),
		zap.Strings("in_flight", p.InFlight),
	}
	if target != "" {
		fields = append(fields, zap.String("target", string(target)))
	}
	return fields
}
