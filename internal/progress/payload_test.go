package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name           string
		counts         counters
		elapsed        time.Duration
		wantPercent    int
		wantElapsed    time.Duration
		wantThroughput string
	}{
		{
			name:           "zero total",
			counts:         counters{},
			elapsed:        3 * time.Second,
			wantPercent:    0,
			wantElapsed:    3 * time.Second,
			wantThroughput: "0.00",
		},
		{
			name:           "rounds percent down",
			counts:         counters{total: 3, processed: 1, succeeded: 1},
			elapsed:        1400 * time.Millisecond,
			wantPercent:    33,
			wantElapsed:    time.Second,
			wantThroughput: "1.00",
		},
		{
			name:           "rounds percent up",
			counts:         counters{total: 3, processed: 2, succeeded: 1, failed: 1},
			elapsed:        1600 * time.Millisecond,
			wantPercent:    67,
			wantElapsed:    2 * time.Second,
			wantThroughput: "1.00",
		},
		{
			name:           "sub second elapsed has no throughput",
			counts:         counters{total: 10, processed: 5, succeeded: 5},
			elapsed:        400 * time.Millisecond,
			wantPercent:    50,
			wantElapsed:    0,
			wantThroughput: "0.00",
		},
		{
			name:           "fractional throughput",
			counts:         counters{total: 40, processed: 10, succeeded: 10},
			elapsed:        3 * time.Second,
			wantPercent:    25,
			wantElapsed:    3 * time.Second,
			wantThroughput: "3.33",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := buildPayload(tt.counts, StatusRunning, "running", start, start.Add(tt.elapsed), nil, 5)
			require.Equal(t, tt.wantPercent, p.Percent)
			require.Equal(t, tt.wantElapsed, p.Elapsed)
			require.Equal(t, tt.wantThroughput, p.ThroughputString())
			require.Equal(t, tt.counts.processed, p.Processed)
			require.False(t, p.Done())
			require.Nil(t, p.InFlight)
		})
	}
}

func TestFirstStartedLimitsAndOrders(t *testing.T) {
	t.Parallel()

	inFlight := map[string]uint64{"late": 9, "early": 1, "middle": 4}
	require.Equal(t, []string{"early", "middle"}, firstStarted(inFlight, 2))
	require.Equal(t, []string{"early", "middle", "late"}, firstStarted(inFlight, 5))
	require.Nil(t, firstStarted(nil, 5))
}
