package progress

import (
	"context"
	"errors"
)

// ErrTargetGone signals that the render target was removed or invalidated
// externally. Sinks wrap it so callers can match with errors.Is.
var ErrTargetGone = errors.New("render target gone")

// Target identifies the external status artifact created by InitialRender.
// The zero value means there is no usable target.
type Target string

// RenderSink performs the side-effecting renders for a Reporter.
//
// UpdateRender must return an error wrapping ErrTargetGone when the target no
// longer exists; any other error is treated as transient.
type RenderSink interface {
	InitialRender(ctx context.Context, p Payload) (Target, error)
	UpdateRender(ctx context.Context, target Target, p Payload) error
	FallbackNotify(ctx context.Context, p Payload) error
}

// IsTargetGone reports whether err carries ErrTargetGone.
func IsTargetGone(err error) bool {
	return errors.Is(err, ErrTargetGone)
}
