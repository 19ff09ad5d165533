package sinks

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/batch-progress/internal/progress"
)

// Embed colors for running and finished runs.
const (
	ColorRunning = 0x0099ff
	ColorDone    = 0x00ff00
)

// DefaultTitle is used when a sink is configured without a title.
const DefaultTitle = "📊 Batch progress"

type webhookMessage struct {
	Embeds []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

func buildMessage(title string, p progress.Payload) webhookMessage {
	if title == "" {
		title = DefaultTitle
	}
	color := ColorRunning
	if p.Done() {
		color = ColorDone
	}
	embed := webhookEmbed{
		Title:       title,
		Description: Describe(p),
		Color:       color,
	}
	if !p.At.IsZero() {
		embed.Timestamp = p.At.UTC().Format(time.RFC3339)
	}
	return webhookMessage{Embeds: []webhookEmbed{embed}}
}

// Describe renders the multi-line status text for a payload.
func Describe(p progress.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Progress**: %d / %d (%d%%)\n", p.Processed, p.Total, p.Percent)
	fmt.Fprintf(&b, "**Status**: %s\n\n", p.Label)
	fmt.Fprintf(&b, "✅ **Succeeded**: %d\n", p.Succeeded)
	fmt.Fprintf(&b, "❌ **Failed**: %d\n\n", p.Failed)
	fmt.Fprintf(&b, "⏱️ **Elapsed**: %d s\n", int64(p.Elapsed/time.Second))
	fmt.Fprintf(&b, "⚡ **Speed**: %s items/s", p.ThroughputString())
	if len(p.InFlight) > 0 {
		b.WriteString("\n\n**In progress:**\n- ")
		b.WriteString(strings.Join(p.InFlight, "\n- "))
	}
	return b.String()
}
