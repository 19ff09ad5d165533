package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/batch-progress/internal/progress"
)

// Notifier delivers a payload through an out-of-band channel.
type Notifier interface {
	Notify(ctx context.Context, p progress.Payload) error
}

// FallbackSink renders through a primary sink and sends fallback
// notifications to a separate Notifier.
type FallbackSink struct {
	primary  progress.RenderSink
	notifier Notifier
}

// NewFallbackSink combines primary with notifier. A nil notifier keeps the
// primary sink's own fallback channel.
func NewFallbackSink(primary progress.RenderSink, notifier Notifier) *FallbackSink {
	return &FallbackSink{primary: primary, notifier: notifier}
}

// InitialRender implements progress.RenderSink.
func (s *FallbackSink) InitialRender(ctx context.Context, p progress.Payload) (progress.Target, error) {
	return s.primary.InitialRender(ctx, p) //nolint:wrapcheck
}

// UpdateRender implements progress.RenderSink.
func (s *FallbackSink) UpdateRender(ctx context.Context, target progress.Target, p progress.Payload) error {
	return s.primary.UpdateRender(ctx, target, p) //nolint:wrapcheck
}

// FallbackNotify implements progress.RenderSink.
func (s *FallbackSink) FallbackNotify(ctx context.Context, p progress.Payload) error {
	if s.notifier == nil {
		return s.primary.FallbackNotify(ctx, p) //nolint:wrapcheck
	}
	return s.notifier.Notify(ctx, p) //nolint:wrapcheck
}

// Publisher publishes an arbitrary JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FallbackEvent is the message published by PublisherNotifier.
type FallbackEvent struct {
	Event   string           `json:"event"`
	RunID   string           `json:"run_id"`
	Summary string           `json:"summary"`
	Payload progress.Payload `json:"payload"`
}

// FallbackEventName is the Event value of published fallback messages.
const FallbackEventName = "progress.fallback"

// PublisherNotifier publishes fallback payloads for one run to a topic.
type PublisherNotifier struct {
	publisher Publisher
	topic     string
	runID     uuid.UUID
}

// NewPublisherNotifier returns a Notifier that publishes to topic.
func NewPublisherNotifier(publisher Publisher, topic string, runID uuid.UUID) *PublisherNotifier {
	return &PublisherNotifier{publisher: publisher, topic: topic, runID: runID}
}

// Notify publishes p wrapped in a FallbackEvent.
func (n *PublisherNotifier) Notify(ctx context.Context, p progress.Payload) error {
	if n.publisher == nil {
		return errors.New("fallback publisher is not configured")
	}
	_, err := n.publisher.Publish(ctx, n.topic, FallbackEvent{
		Event:   FallbackEventName,
		RunID:   n.runID.String(),
		Summary: fmt.Sprintf("%s: %d/%d (%d%%), %d failed", p.Label, p.Processed, p.Total, p.Percent, p.Failed),
		Payload: p,
	})
	if err != nil {
		return fmt.Errorf("publish fallback notice: %w", err)
	}
	return nil
}
