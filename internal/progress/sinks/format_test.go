package sinks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-progress/internal/progress"
)

func TestDescribe(t *testing.T) {
	p := progress.Payload{
		Status:     progress.StatusRunning,
		Label:      "running",
		Total:      25,
		Processed:  11,
		Succeeded:  10,
		Failed:     1,
		Percent:    44,
		Elapsed:    12 * time.Second,
		Throughput: 11.0 / 12.0,
		InFlight:   []string{"a.txt", "b.txt"},
	}

	want := "**Progress**: 11 / 25 (44%)\n" +
		"**Status**: running\n\n" +
		"✅ **Succeeded**: 10\n" +
		"❌ **Failed**: 1\n\n" +
		"⏱️ **Elapsed**: 12 s\n" +
		"⚡ **Speed**: 0.92 items/s\n\n" +
		"**In progress:**\n- a.txt\n- b.txt"
	require.Equal(t, want, Describe(p))
}

func TestDescribeOmitsEmptyInFlight(t *testing.T) {
	p := progress.Payload{Status: progress.StatusDone, Label: "done", Total: 0}
	require.NotContains(t, Describe(p), "In progress")
	require.Contains(t, Describe(p), "**Progress**: 0 / 0 (0%)")
}

func TestBuildMessageColor(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	running := buildMessage("", progress.Payload{Status: progress.StatusRunning, At: at})
	require.Len(t, running.Embeds, 1)
	require.Equal(t, ColorRunning, running.Embeds[0].Color)
	require.Equal(t, DefaultTitle, running.Embeds[0].Title)
	require.Equal(t, "2024-01-02T03:04:05Z", running.Embeds[0].Timestamp)

	done := buildMessage("Nightly backup", progress.Payload{Status: progress.StatusDone})
	require.Equal(t, ColorDone, done.Embeds[0].Color)
	require.Equal(t, "Nightly backup", done.Embeds[0].Title)
	require.Empty(t, done.Embeds[0].Timestamp)
}
