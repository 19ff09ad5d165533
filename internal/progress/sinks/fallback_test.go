package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/publisher/memory"
)

func TestFallbackSinkRoutesNotifications(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	runID := uuid.New()
	primary := &scriptedSink{target: "t", fallbackErr: errors.New("primary fallback must not be used")}
	sink := NewFallbackSink(primary, NewPublisherNotifier(pub, "progress-fallback", runID))
	ctx := context.Background()

	target, err := sink.InitialRender(ctx, runningPayload())
	require.NoError(t, err)
	require.Equal(t, progress.Target("t"), target)
	require.NoError(t, sink.UpdateRender(ctx, target, runningPayload()))
	require.NoError(t, sink.FallbackNotify(ctx, runningPayload()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "progress-fallback", msgs[0].Topic)
	event, ok := msgs[0].Payload.(FallbackEvent)
	require.True(t, ok)
	require.Equal(t, FallbackEventName, event.Event)
	require.Equal(t, runID.String(), event.RunID)
	require.Equal(t, "running: 3/10 (30%), 0 failed", event.Summary)
}

func TestFallbackSinkWithoutNotifierUsesPrimary(t *testing.T) {
	t.Parallel()

	boom := errors.New("primary")
	sink := NewFallbackSink(&scriptedSink{fallbackErr: boom}, nil)
	require.ErrorIs(t, sink.FallbackNotify(context.Background(), runningPayload()), boom)
}

func TestPublisherNotifierErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	n := NewPublisherNotifier(pub, "topic", uuid.New())
	require.ErrorContains(t, n.Notify(context.Background(), runningPayload()), "publish fallback notice")

	require.Error(t, NewPublisherNotifier(nil, "topic", uuid.New()).Notify(context.Background(), runningPayload()))
}
