package sinks

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/JakeFAU/batch-progress/internal/metrics"
	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/telemetry"
)

// Render operation names used for metrics and span names.
const (
	OpInitial  = "initial"
	OpUpdate   = "update"
	OpFallback = "fallback"
)

// InstrumentedSink records Prometheus metrics and OpenTelemetry spans around
// every call to the wrapped sink.
type InstrumentedSink struct {
	next    progress.RenderSink
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewInstrumentedSink wraps next. Either m or tp may be nil.
func NewInstrumentedSink(next progress.RenderSink, m *metrics.Metrics, tp trace.TracerProvider) *InstrumentedSink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &InstrumentedSink{
		next:    next,
		metrics: m,
		tracer:  tp.Tracer(telemetry.TracerName),
	}
}

// InitialRender implements progress.RenderSink.
func (s *InstrumentedSink) InitialRender(ctx context.Context, p progress.Payload) (progress.Target, error) {
	var target progress.Target
	err := s.observe(ctx, OpInitial, p, func(ctx context.Context) error {
		var err error
		target, err = s.next.InitialRender(ctx, p)
		return err
	})
	return target, err
}

// UpdateRender implements progress.RenderSink.
func (s *InstrumentedSink) UpdateRender(ctx context.Context, target progress.Target, p progress.Payload) error {
	return s.observe(ctx, OpUpdate, p, func(ctx context.Context) error {
		return s.next.UpdateRender(ctx, target, p)
	})
}

// FallbackNotify implements progress.RenderSink.
func (s *InstrumentedSink) FallbackNotify(ctx context.Context, p progress.Payload) error {
	return s.observe(ctx, OpFallback, p, func(ctx context.Context) error {
		return s.next.FallbackNotify(ctx, p)
	})
}

func (s *InstrumentedSink) observe(
	ctx context.Context,
	op string,
	p progress.Payload,
	call func(context.Context) error,
) error {
	ctx, span := s.tracer.Start(ctx, "progress.render."+op, trace.WithAttributes(
		attribute.String("progress.status", string(p.Status)),
		attribute.Int("progress.processed", p.Processed),
		attribute.Int("progress.total", p.Total),
	))
	defer span.End()

	start := time.Now()
	err := call(ctx)
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case progress.IsTargetGone(err):
		outcome = metrics.OutcomeTargetGone
	default:
		outcome = metrics.OutcomeError
	}
	s.metrics.ObserveRender(op, outcome, time.Since(start))

	span.SetAttributes(attribute.String("progress.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
