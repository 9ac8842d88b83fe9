package mcphost

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// defaultWindowSize is how many recent calls each tool's window keeps.
const defaultWindowSize = 100

// latencyWindow keeps the most recent call durations of one tool in a ring
// buffer. Safe for concurrent use.
type latencyWindow struct {
	mu      sync.Mutex
	samples []float64 // milliseconds
	pos     int
	full    bool
	calls   int
	errors  int
	last    time.Time
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &latencyWindow{samples: make([]float64, 0, size)}
}

// record adds one call. Errors are counted over the tool's lifetime.
func (w *latencyWindow) record(d time.Duration, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ms := float64(d) / float64(time.Millisecond)
	if !w.full {
		w.samples = append(w.samples, ms)
		w.full = len(w.samples) == cap(w.samples)
	} else {
		w.samples[w.pos] = ms
		w.pos = (w.pos + 1) % len(w.samples)
	}
	w.calls++
	if failed {
		w.errors++
	}
	w.last = time.Now()
}

// quantiles returns the empirical p50 and p99 of the window. Both are zero
// before the first call.
func (w *latencyWindow) quantiles() (p50, p99 time.Duration) {
	w.mu.Lock()
	sorted := slices.Clone(w.samples)
	w.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0
	}
	slices.Sort(sorted)
	toDur := func(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
	return toDur(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		toDur(stat.Quantile(0.99, stat.Empirical, sorted, nil))
}

func (w *latencyWindow) counts() (calls, errors int, last time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, w.errors, w.last
}
