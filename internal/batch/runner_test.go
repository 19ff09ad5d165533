package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu       sync.Mutex
	started  []string
	finished map[string]bool
	running  int
	peak     int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{finished: make(map[string]bool)}
}

func (f *fakeTracker) TaskStarted(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	return nil
}

func (f *fakeTracker) TaskFinished(name string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
	f.finished[name] = success
	return nil
}

type countingObserver struct {
	ok, failed atomic.Int32
}

func (o *countingObserver) ObserveTask(success bool) {
	if success {
		o.ok.Add(1)
		return
	}
	o.failed.Add(1)
}

func sleepTask(name string, d time.Duration, err error) Task {
	return Task{Name: name, Run: func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
}

func TestRunnerReportsEveryTask(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	r := New(Config{Concurrency: 3, Observer: obs})
	tracker := newFakeTracker()
	tasks := make([]Task, 0, 10)
	for i := 0; i < 10; i++ {
		var err error
		if i%4 == 0 {
			err = fmt.Errorf("task %d broke", i)
		}
		tasks = append(tasks, sleepTask(fmt.Sprintf("t%02d", i), 5*time.Millisecond, err))
	}

	res := r.Run(context.Background(), tracker, tasks)

	assert.Equal(t, 7, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.Zero(t, res.Skipped)
	assert.False(t, res.Aborted())
	require.Error(t, res.Err)
	assert.Len(t, res.Failures, 3)

	names := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		names = append(names, f.Task)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"t00", "t04", "t08"}, names)

	assert.Len(t, tracker.started, 10)
	assert.Len(t, tracker.finished, 10)
	assert.False(t, tracker.finished["t04"])
	assert.True(t, tracker.finished["t01"])
	assert.LessOrEqual(t, tracker.peak, 3)
	assert.EqualValues(t, 7, obs.ok.Load())
	assert.EqualValues(t, 3, obs.failed.Load())
}

func TestRunnerRecoversPanics(t *testing.T) {
	t.Parallel()

	r := New(Config{Concurrency: 1})
	tracker := newFakeTracker()
	res := r.Run(context.Background(), tracker, []Task{
		{Name: "boom", Run: func(context.Context) error { panic("kaboom") }},
		{Name: "nil-run"},
		{Name: "fine", Run: func(context.Context) error { return nil }},
	})

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.ErrorContains(t, res.Err, "panic: kaboom")
	assert.False(t, tracker.finished["boom"])
	assert.True(t, tracker.finished["fine"])
}

func TestRunnerStopsLaunchingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := New(Config{Concurrency: 1})
	tracker := newFakeTracker()
	tasks := []Task{
		{Name: "first", Run: func(context.Context) error {
			cancel()
			return nil
		}},
		sleepTask("second", time.Millisecond, nil),
		sleepTask("third", time.Millisecond, nil),
	}

	res := r.Run(ctx, tracker, tasks)

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Skipped)
	assert.True(t, res.Aborted())
	assert.Equal(t, []string{"first"}, tracker.started)
	assert.Len(t, tracker.finished, 1)
}

func TestRunnerEmpty(t *testing.T) {
	t.Parallel()

	res := New(Config{}).Run(context.Background(), newFakeTracker(), nil)
	assert.Zero(t, res.Succeeded+res.Failed+res.Skipped)
	assert.NoError(t, res.Err)
}

type rejectingTracker struct{}

func (rejectingTracker) TaskStarted(string) error        { return errors.New("finished") }
func (rejectingTracker) TaskFinished(string, bool) error { return errors.New("finished") }

func TestRunnerToleratesTrackerErrors(t *testing.T) {
	t.Parallel()

	res := New(Config{}).Run(context.Background(), rejectingTracker{}, []Task{
		{Name: "a", Run: func(context.Context) error { return nil }},
	})
	assert.Equal(t, 1, res.Succeeded)
}
