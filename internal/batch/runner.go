// Package batch runs a fixed set of tasks with bounded concurrency and feeds
// their start and finish events into a progress reporter.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/batch-progress/internal/telemetry"
)

// DefaultConcurrency matches the number of tasks run at once when unset.
const DefaultConcurrency = 3

// Task is one named unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Tracker receives task lifecycle events. *progress.Reporter satisfies it.
type Tracker interface {
	TaskStarted(name string) error
	TaskFinished(name string, success bool) error
}

// TaskObserver records task outcomes. *metrics.Metrics satisfies it.
type TaskObserver interface {
	ObserveTask(success bool)
}

// Config controls Runner behavior.
type Config struct {
	Concurrency    int
	Logger         *zap.Logger
	Observer       TaskObserver
	TracerProvider trace.TracerProvider
}

// Runner executes tasks.
type Runner struct {
	concurrency int
	logger      *zap.Logger
	observer    TaskObserver
	tracer      trace.Tracer
}

// Failure records one failed task.
type Failure struct {
	Task string `json:"task"`
	Err  string `json:"error"`
}

// Result summarizes a Run.
type Result struct {
	Succeeded int
	Failed    int
	// Skipped counts tasks never started because the context ended.
	Skipped  int
	Failures []Failure
	// Err joins every task error, or is nil.
	Err error
}

// Aborted reports whether some tasks were never started.
func (r Result) Aborted() bool {
	return r.Skipped > 0
}

// New constructs a Runner.
func New(cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Runner{
		concurrency: cfg.Concurrency,
		logger:      logger,
		observer:    cfg.Observer,
		tracer:      tp.Tracer(telemetry.TracerName),
	}
}

// Run executes tasks, reporting each start and finish to tracker. A failing
// task never cancels its siblings. Once ctx is done no further tasks start;
// those are counted as skipped and not reported to tracker. Run never
// finishes the tracker.
func (r *Runner) Run(ctx context.Context, tracker Tracker, tasks []Task) Result {
	var (
		mu   sync.Mutex
		res  Result
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, task := range tasks {
		if ctx.Err() != nil {
			mu.Lock()
			res.Skipped += len(tasks) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}
			err := r.runOne(ctx, tracker, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, Failure{Task: task.Name, Err: err.Error()})
				errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			} else {
				res.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Err = errors.Join(errs...)
	return res
}

func (r *Runner) runOne(ctx context.Context, tracker Tracker, task Task) (err error) {
	if terr := tracker.TaskStarted(task.Name); terr != nil {
		r.logger.Warn("task start not tracked", zap.String("task", task.Name), zap.Error(terr))
	}
	ctx, span := r.tracer.Start(ctx, "batch.task", trace.WithAttributes(attribute.String("task.name", task.Name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if r.observer != nil {
			r.observer.ObserveTask(err == nil)
		}
		if terr := tracker.TaskFinished(task.Name, err == nil); terr != nil {
			r.logger.Warn("task finish not tracked", zap.String("task", task.Name), zap.Error(terr))
		}
	}()

	return r.invoke(ctx, task)
}

func (r *Runner) invoke(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if task.Run == nil {
		return errors.New("task has no run func")
	}
	if err := task.Run(ctx); err != nil {
		r.logger.Debug("task failed", zap.String("task", task.Name), zap.Error(err))
		return err
	}
	return nil
}
