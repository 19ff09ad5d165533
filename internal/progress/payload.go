package progress

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Status is the coarse lifecycle state of a run.
type Status string

// Run lifecycle states.
const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Payload is the render-ready view of a run at one instant.
type Payload struct {
	// Status is running until Finish is called.
	Status Status `json:"status"`
	// Label is the display status; the caller's final label once done.
	Label     string `json:"label"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	// Percent is processed/total rounded to a whole percent, 0 when total is 0.
	Percent int `json:"percent"`
	// Elapsed is rounded to whole seconds.
	Elapsed time.Duration `json:"elapsed"`
	// Throughput is completed tasks per elapsed second.
	Throughput float64 `json:"throughput"`
	// InFlight lists running task names in the order they started.
	InFlight []string  `json:"in_flight,omitempty"`
	At       time.Time `json:"at"`
}

// Done reports whether this is a terminal payload.
func (p Payload) Done() bool {
	return p.Status == StatusDone
}

// ThroughputString formats Throughput with two decimals.
func (p Payload) ThroughputString() string {
	return strconv.FormatFloat(p.Throughput, 'f', 2, 64)
}

type counters struct {
	total     int
	processed int
	succeeded int
	failed    int
}

func buildPayload(
	c counters,
	status Status,
	label string,
	startedAt, now time.Time,
	inFlight map[string]uint64,
	maxNames int,
) Payload {
	secs := int64(math.Round(now.Sub(startedAt).Seconds()))
	if secs < 0 {
		secs = 0
	}
	p := Payload{
		Status:    status,
		Label:     label,
		Total:     c.total,
		Processed: c.processed,
		Succeeded: c.succeeded,
		Failed:    c.failed,
		Elapsed:   time.Duration(secs) * time.Second,
		At:        now,
	}
	if c.total > 0 {
		p.Percent = int(math.Round(float64(c.processed) / float64(c.total) * 100))
	}
	if secs > 0 {
		p.Throughput = float64(c.processed) / float64(secs)
	}
	p.InFlight = firstStarted(inFlight, maxNames)
	return p
}

// firstStarted returns up to n names ordered by their start sequence.
func firstStarted(inFlight map[string]uint64, n int) []string {
	if len(inFlight) == 0 || n <= 0 {
		return nil
	}
	names := make([]string, 0, len(inFlight))
	for name := range inFlight {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return inFlight[names[i]] < inFlight[names[j]]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
