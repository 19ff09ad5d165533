package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/clock"
	"github.com/JakeFAU/batch-progress/internal/clock/system"
)

// Config controls coalescing and pacing for a Reporter.
//   - BatchThreshold: completions coalesced per scheduled render (default 10).
//   - DebounceDelay: delay before a scheduled render fires, and the mandatory
//     wait before the terminal render (default 1500ms).
//   - MaxInFlightShown: running task names included in payloads (default 5).
//   - RenderTimeout: per-call timeout for sink calls (default 10s).
//   - RunningLabel: display label while the run is in progress (default "running").
//   - Clock: time source (defaults to the system clock).
//   - Logger: optional structured logger.
type Config struct {
	BatchThreshold   int
	DebounceDelay    time.Duration
	MaxInFlightShown int
	RenderTimeout    time.Duration
	RunningLabel     string
	Clock            clock.Clock
	Logger           *zap.Logger
}

const (
	defaultBatchThreshold   = 10
	defaultDebounceDelay    = 1500 * time.Millisecond
	defaultMaxInFlightShown = 5
	defaultRenderTimeout    = 10 * time.Second
	defaultRunningLabel     = "running"
	defaultDoneLabel        = "done"
)

var (
	// ErrFinished is returned when the reporter is used after Finish.
	ErrFinished = errors.New("progress reporter already finished")
	// ErrTotalExceeded is returned when more tasks finish than the run declared.
	ErrTotalExceeded = errors.New("finished tasks exceed run total")
)

// Reporter tracks one batch run and drives renders to a RenderSink. Task
// events may arrive from many goroutines; they are serialized internally.
type Reporter struct {
	cfg     Config
	sink    RenderSink
	clock   clock.Clock
	logger  *zap.Logger
	baseCtx context.Context

	mu              sync.Mutex
	counts          counters
	sinceLastRender int
	inFlight        map[string]uint64
	seq             uint64
	startedAt       time.Time
	status          Status
	label           string
	timer           clock.Timer
	gen             uint64
	target          Target

	// renderMu serializes outgoing sink calls. It is always acquired before mu.
	renderMu sync.Mutex
}

// New creates a Reporter for total tasks and issues the initial render. A
// failed initial render is logged and leaves the reporter without a target, so
// later renders use the fallback channel.
func New(ctx context.Context, sink RenderSink, total int, cfg Config) (*Reporter, error) {
	if sink == nil {
		return nil, errors.New("render sink is required")
	}
	if total < 0 {
		return nil, fmt.Errorf("total must be >= 0, got %d", total)
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = defaultBatchThreshold
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaultDebounceDelay
	}
	if cfg.MaxInFlightShown <= 0 {
		cfg.MaxInFlightShown = defaultMaxInFlightShown
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = defaultRenderTimeout
	}
	if cfg.RunningLabel == "" {
		cfg.RunningLabel = defaultRunningLabel
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Reporter{
		cfg:       cfg,
		sink:      sink,
		clock:     cfg.Clock,
		logger:    logger,
		baseCtx:   context.WithoutCancel(ctx),
		counts:    counters{total: total},
		inFlight:  make(map[string]uint64),
		startedAt: cfg.Clock.Now(),
		status:    StatusRunning,
		label:     cfg.RunningLabel,
	}

	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	renderCtx, cancel := context.WithTimeout(ctx, cfg.RenderTimeout)
	defer cancel()
	target, err := sink.InitialRender(renderCtx, r.Snapshot())
	if err != nil {
		r.logger.Warn("initial progress render failed; updates will use fallback", zap.Error(err))
		return r, nil
	}
	if target == "" {
		r.logger.Warn("initial progress render returned no target; updates will use fallback")
	}
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
	return r, nil
}

// TaskStarted marks name as running. Starts never trigger a render, and
// repeated names collapse into one entry.
func (r *Reporter) TaskStarted(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusDone {
		r.logger.Error("task started after run finished", zap.String("task", name))
		return ErrFinished
	}
	if _, ok := r.inFlight[name]; !ok {
		r.seq++
		r.inFlight[name] = r.seq
	}
	return nil
}

// TaskFinished records one completion and schedules a render once
// BatchThreshold completions have accumulated or the run total is reached.
func (r *Reporter) TaskFinished(name string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusDone {
		r.logger.Error("task finished after run finished", zap.String("task", name))
		return ErrFinished
	}
	if r.counts.processed >= r.counts.total {
		r.logger.Error("task finished beyond run total",
			zap.String("task", name),
			zap.Int("total", r.counts.total),
		)
		return ErrTotalExceeded
	}
	r.counts.processed++
	if success {
		r.counts.succeeded++
	} else {
		r.counts.failed++
	}
	delete(r.inFlight, name)
	r.sinceLastRender++

	if r.sinceLastRender >= r.cfg.BatchThreshold || r.counts.processed == r.counts.total {
		r.scheduleLocked()
	}
	return nil
}

// Finish stops scheduled renders, waits DebounceDelay, and issues the terminal
// render. If the primary target is reported gone the payload is sent once via
// the fallback channel; any other terminal failure is returned without retry.
// The wait is not shortened by ctx; ctx only bounds the sink calls.
func (r *Reporter) Finish(ctx context.Context, label string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.status == StatusDone {
		r.mu.Unlock()
		r.logger.Error("finish called twice")
		return ErrFinished
	}
	r.stopTimerLocked()
	r.gen++
	r.status = StatusDone
	if label == "" {
		label = defaultDoneLabel
	}
	r.label = label
	r.mu.Unlock()

	r.sleep(r.cfg.DebounceDelay)

	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	r.mu.Lock()
	payload := r.snapshotLocked()
	target := r.target
	r.mu.Unlock()
	return r.deliverTerminal(ctx, target, payload)
}

// Snapshot returns the current payload without rendering it.
func (r *Reporter) Snapshot() Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// HasTarget reports whether renders still go to the primary target.
func (r *Reporter) HasTarget() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target != ""
}

func (r *Reporter) snapshotLocked() Payload {
	return buildPayload(
		r.counts,
		r.status,
		r.label,
		r.startedAt,
		r.clock.Now(),
		r.inFlight,
		r.cfg.MaxInFlightShown,
	)
}

// scheduleLocked cancels any pending render and arms a new one. The payload is
// computed when the timer fires, so completions arriving in between are
// folded into that render.
func (r *Reporter) scheduleLocked() {
	r.sinceLastRender = 0
	r.stopTimerLocked()
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(r.cfg.DebounceDelay, func() {
		r.fire(gen)
	})
}

func (r *Reporter) stopTimerLocked() {
	if r.timer == nil {
		return
	}
	r.timer.Stop()
	r.timer = nil
}

func (r *Reporter) fire(gen uint64) {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	r.mu.Lock()
	// A newer schedule or Finish superseded this timer.
	if r.status == StatusDone || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	payload := r.snapshotLocked()
	target := r.target
	r.mu.Unlock()

	r.deliverScheduled(target, payload)
}

func (r *Reporter) deliverScheduled(target Target, payload Payload) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.RenderTimeout)
	defer cancel()

	if target == "" {
		if err := r.sink.FallbackNotify(ctx, payload); err != nil {
			r.logger.Warn("progress fallback notify failed", zap.Error(err))
		}
		return
	}
	err := r.sink.UpdateRender(ctx, target, payload)
	if err == nil {
		return
	}
	if IsTargetGone(err) {
		r.dropTarget(target)
		r.logger.Warn("progress render target gone; switching to fallback",
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return
	}
	r.logger.Warn("progress render failed", zap.String("target", string(target)), zap.Error(err))
}

func (r *Reporter) deliverTerminal(ctx context.Context, target Target, payload Payload) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	if target == "" {
		if err := r.sink.FallbackNotify(ctx, payload); err != nil {
			r.logger.Error("terminal fallback notify failed", zap.Error(err))
			return fmt.Errorf("terminal fallback notify: %w", err)
		}
		return nil
	}
	err := r.sink.UpdateRender(ctx, target, payload)
	if err == nil {
		return nil
	}
	if !IsTargetGone(err) {
		r.logger.Error("terminal progress render failed", zap.String("target", string(target)), zap.Error(err))
		return fmt.Errorf("terminal render: %w", err)
	}
	r.dropTarget(target)
	if ferr := r.sink.FallbackNotify(ctx, payload); ferr != nil {
		r.logger.Error("terminal fallback notify failed", zap.Error(ferr))
		return errors.Join(
			fmt.Errorf("terminal render: %w", err),
			fmt.Errorf("terminal fallback notify: %w", ferr),
		)
	}
	return nil
}

func (r *Reporter) dropTarget(target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == target {
		r.target = ""
	}
}

func (r *Reporter) sleep(d time.Duration) {
	done := make(chan struct{})
	r.clock.AfterFunc(d, func() { close(done) })
	<-done
}
