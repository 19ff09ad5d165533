// Package backup collects every file under a directory into blob storage as
// one tracked batch run.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/batch"
	"github.com/JakeFAU/batch-progress/internal/clock"
	"github.com/JakeFAU/batch-progress/internal/clock/system"
	"github.com/JakeFAU/batch-progress/internal/hash/sha256"
	iduuid "github.com/JakeFAU/batch-progress/internal/id/uuid"
	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/progress/sinks"
	"github.com/JakeFAU/batch-progress/internal/storage"
	"github.com/JakeFAU/batch-progress/internal/store"
)

// Final labels used when the caller does not override the clean one.
const (
	LabelDone         = "done"
	LabelWithFailures = "done with failures"
	LabelAborted      = "aborted"
)

// Run outcomes reported to the RunObserver.
const (
	OutcomeClean    = "clean"
	OutcomeFailures = "failures"
	OutcomeAborted  = "aborted"
)

// CompletedEvent is the event name published when a run completes.
const CompletedEvent = "run.completed"

const bookkeepingTimeout = 30 * time.Second

// IDGenerator creates run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// RunObserver records run lifecycle metrics. *metrics.Metrics satisfies it.
type RunObserver interface {
	RunStarted()
	RunFinished(outcome string)
}

// SinkFactory builds the render sink chain for one run.
type SinkFactory func(runID uuid.UUID) progress.RenderSink

// Config controls Collector behavior.
type Config struct {
	// Prefix is prepended to every object path (default "backups").
	Prefix string
	// ReportContentType is the content type of the summary report.
	ReportContentType string
	// EventTopic receives run.completed events; empty uses the publisher default.
	EventTopic string
	Reporter   progress.Config
}

// Deps are the collaborators of a Collector. Blobs, Runs, Runner, and Sinks are
// required.
type Deps struct {
	Blobs     storage.BlobStore
	Runs      store.RunRepository
	Runner    *batch.Runner
	Sinks     SinkFactory
	IDs       IDGenerator
	Publisher sinks.Publisher
	Observer  RunObserver
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Collector drives backup runs.
type Collector struct {
	deps Deps
	cfg  Config
}

// Report is the summary archived next to the collected files.
type Report struct {
	RunID      string          `json:"run_id"`
	SourceDir  string          `json:"source_dir"`
	Label      string          `json:"label"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Failures   []batch.Failure `json:"failures,omitempty"`
	Files      []FileEntry     `json:"files,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// FileEntry records one uploaded file in the report manifest.
type FileEntry struct {
	Path   string `json:"path"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

type manifest struct {
	mu      sync.Mutex
	entries []FileEntry
}

func (m *manifest) add(e FileEntry) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *manifest) sorted() []FileEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]FileEntry(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Summary is returned by Run.
type Summary struct {
	RunID     uuid.UUID
	Label     string
	Outcome   string
	Report    Report
	ReportURI string
}

// CompletedMessage is published once a run is complete.
type CompletedMessage struct {
	Event     string `json:"event"`
	RunID     string `json:"run_id"`
	Label     string `json:"label"`
	Outcome   string `json:"outcome"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	ReportURI string `json:"report_uri,omitempty"`
}

// New validates deps and returns a Collector.
func New(deps Deps, cfg Config) (*Collector, error) {
	switch {
	case deps.Blobs == nil:
		return nil, errors.New("blob store is required")
	case deps.Runs == nil:
		return nil, errors.New("run repository is required")
	case deps.Runner == nil:
		return nil, errors.New("batch runner is required")
	case deps.Sinks == nil:
		return nil, errors.New("sink factory is required")
	}
	if deps.IDs == nil {
		deps.IDs = iduuid.NewGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "backups"
	}
	if cfg.ReportContentType == "" {
		cfg.ReportContentType = "application/json"
	}
	if cfg.Reporter.Clock == nil {
		cfg.Reporter.Clock = deps.Clock
	}
	if cfg.Reporter.Logger == nil {
		cfg.Reporter.Logger = deps.Logger
	}
	return &Collector{deps: deps, cfg: cfg}, nil
}

// Tasks walks sourceDir and returns one upload task per regular file, in
// lexical path order. Objects land at {prefix}/{runID}/{relative path}.
func (c *Collector) Tasks(ctx context.Context, runID uuid.UUID, sourceDir string) ([]batch.Task, error) {
	return c.tasks(ctx, runID, sourceDir, nil)
}

func (c *Collector) tasks(ctx context.Context, runID uuid.UUID, sourceDir string, m *manifest) ([]batch.Task, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("stat source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %q is not a directory", sourceDir)
	}

	var tasks []batch.Task
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		tasks = append(tasks, c.uploadTask(path, rel, storage.ObjectPath(c.cfg.Prefix, runID.String(), rel), m))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source dir: %w", err)
	}
	return tasks, nil
}

func (c *Collector) uploadTask(path, name, objectPath string, m *manifest) batch.Task {
	return batch.Task{
		Name: name,
		Run: func(ctx context.Context) error {
			// #nosec G304 -- path comes from walking the operator-supplied source dir.
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer func() { _ = f.Close() }()

			body := sha256.NewReader(f)
			uri, err := c.deps.Blobs.PutObject(ctx, objectPath, contentTypeFor(name), body)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			digest := body.Digest()
			m.add(FileEntry{Path: name, URI: uri, SHA256: digest.Hex, Bytes: digest.Bytes})
			return nil
		},
	}
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Run collects sourceDir as one batch run. cleanLabel is the final label when
// every task succeeds (default "done"). Task failures are reported in the
// Summary, not as an error; the error covers setup, the terminal render, and
// bookkeeping, plus cancellation of ctx.
func (c *Collector) Run(ctx context.Context, sourceDir, cleanLabel string) (Summary, error) {
	logger := c.deps.Logger
	runID, err := c.deps.IDs.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID.String()))

	files := &manifest{}
	tasks, err := c.tasks(ctx, runID, sourceDir, files)
	if err != nil {
		return Summary{}, err
	}

	startedAt := c.deps.Clock.Now()
	runningLabel := c.cfg.Reporter.RunningLabel
	if runningLabel == "" {
		runningLabel = "running"
	}
	if err := c.deps.Runs.CreateRun(ctx, store.RunRecord{
		ID:        runID,
		Label:     runningLabel,
		Total:     len(tasks),
		Status:    store.RunRunning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}); err != nil {
		return Summary{}, fmt.Errorf("create run: %w", err)
	}

	sink := sinks.NewStoreSink(c.deps.Sinks(runID), c.deps.Runs, runID, logger)
	rep, err := progress.New(ctx, sink, len(tasks), c.cfg.Reporter)
	if err != nil {
		return Summary{}, fmt.Errorf("create reporter: %w", err)
	}
	if c.deps.Observer != nil {
		c.deps.Observer.RunStarted()
	}
	logger.Info("backup run started", zap.String("source_dir", sourceDir), zap.Int("files", len(tasks)))

	res := c.deps.Runner.Run(ctx, rep, tasks)

	label, outcome := finalLabel(res, cleanLabel)
	var errs []error
	if ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("run aborted: %w", ctx.Err()))
	}

	// Terminal render and bookkeeping still happen after cancellation.
	bgCtx := context.WithoutCancel(ctx)
	if err := rep.Finish(bgCtx, label); err != nil {
		errs = append(errs, fmt.Errorf("finish progress: %w", err))
	}
	if c.deps.Observer != nil {
		c.deps.Observer.RunFinished(outcome)
	}

	bookCtx, cancel := context.WithTimeout(bgCtx, bookkeepingTimeout)
	defer cancel()

	finishedAt := c.deps.Clock.Now()
	report := Report{
		RunID:      runID.String(),
		SourceDir:  sourceDir,
		Label:      label,
		Total:      len(tasks),
		Succeeded:  res.Succeeded,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		Failures:   res.Failures,
		Files:      files.sorted(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	summary := Summary{RunID: runID, Label: label, Outcome: outcome, Report: report}

	var reportURI *string
	if uri, err := c.writeReport(bookCtx, runID, report); err != nil {
		errs = append(errs, err)
	} else {
		summary.ReportURI = uri
		reportURI = &uri
	}
	if err := c.deps.Runs.CompleteRun(bookCtx, runID, label, finishedAt, reportURI); err != nil {
		errs = append(errs, fmt.Errorf("complete run: %w", err))
	}
	if err := c.publishCompleted(bookCtx, summary); err != nil {
		errs = append(errs, err)
	}

	logger.Info("backup run finished",
		zap.String("label", label),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return summary, errors.Join(errs...)
}

func finalLabel(res batch.Result, cleanLabel string) (string, string) {
	switch {
	case res.Aborted():
		return LabelAborted, OutcomeAborted
	case res.Failed > 0:
		return LabelWithFailures, OutcomeFailures
	case cleanLabel != "":
		return cleanLabel, OutcomeClean
	default:
		return LabelDone, OutcomeClean
	}
}

func (c *Collector) writeReport(ctx context.Context, runID uuid.UUID, report Report) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := storage.ObjectPath(c.cfg.Prefix, "reports", runID.String()+".json")
	uri, err := c.deps.Blobs.PutObject(ctx, path, c.cfg.ReportContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return uri, nil
}

func (c *Collector) publishCompleted(ctx context.Context, s Summary) error {
	if c.deps.Publisher == nil {
		return nil
	}
	_, err := c.deps.Publisher.Publish(ctx, c.cfg.EventTopic, CompletedMessage{
		Event:     CompletedEvent,
		RunID:     s.RunID.String(),
		Label:     s.Label,
		Outcome:   s.Outcome,
		Total:     s.Report.Total,
		Succeeded: s.Report.Succeeded,
		Failed:    s.Report.Failed,
		ReportURI: s.ReportURI,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", CompletedEvent, err)
	}
	return nil
}
