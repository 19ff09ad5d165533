package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/batch-progress/internal/metrics"
	"github.com/JakeFAU/batch-progress/internal/progress"
)

type scriptedSink struct {
	target      progress.Target
	initialErr  error
	updateErr   error
	fallbackErr error
}

func (s *scriptedSink) InitialRender(context.Context, progress.Payload) (progress.Target, error) {
	return s.target, s.initialErr
}

func (s *scriptedSink) UpdateRender(context.Context, progress.Target, progress.Payload) error {
	return s.updateErr
}

func (s *scriptedSink) FallbackNotify(context.Context, progress.Payload) error {
	return s.fallbackErr
}

func TestInstrumentedSinkRecordsOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inner := &scriptedSink{
		target:      "t-1",
		updateErr:   fmt.Errorf("edit: %w", progress.ErrTargetGone),
		fallbackErr: errors.New("boom"),
	}
	sink := NewInstrumentedSink(inner, m, tp)
	ctx := context.Background()

	target, err := sink.InitialRender(ctx, runningPayload())
	require.NoError(t, err)
	require.Equal(t, progress.Target("t-1"), target)
	require.True(t, progress.IsTargetGone(sink.UpdateRender(ctx, target, runningPayload())))
	require.EqualError(t, sink.FallbackNotify(ctx, runningPayload()), "boom")

	expected := `
# HELP batchprogress_render_calls_total Render sink calls partitioned by operation and outcome.
# TYPE batchprogress_render_calls_total counter
batchprogress_render_calls_total{op="fallback",outcome="error"} 1
batchprogress_render_calls_total{op="initial",outcome="ok"} 1
batchprogress_render_calls_total{op="update",outcome="target_gone"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "batchprogress_render_calls_total"))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	require.Equal(t, "progress.render.initial", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, "progress.render.fallback", spans[2].Name())
	require.Equal(t, codes.Error, spans[2].Status().Code)
}

func TestInstrumentedSinkWithoutCollectors(t *testing.T) {
	t.Parallel()

	sink := NewInstrumentedSink(&scriptedSink{target: "x"}, nil, nil)
	_, err := sink.InitialRender(context.Background(), runningPayload())
	require.NoError(t, err)
}
