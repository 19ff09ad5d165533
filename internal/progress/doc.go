// Package progress reports the live state of a long-running batch run to a
// single external status artifact. A Reporter counts task completions,
// coalesces them into debounced renders so the external endpoint sees at most
// one update per threshold window, and guarantees one terminal render when the
// run finishes. Once the primary artifact is reported gone, every further
// render degrades to the sink's fallback channel.
package progress
