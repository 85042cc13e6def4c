package mainloop

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of loop statistics, see Loop.Metrics.
type Metrics struct {
	// Latency is only populated when the loop was created WithMetrics(true).
	Latency LatencyMetrics

	// Iterations counts completed readiness waits.
	Iterations uint64
	// Wakeups counts wait cycles interrupted by the wakeup channel.
	Wakeups uint64
	// TimersFired counts timer callbacks, one-shot and periodic.
	TimersFired uint64
	// IOCallbacks counts I/O watch callbacks.
	IOCallbacks uint64
	// Panics counts callbacks that panicked and were recovered.
	Panics uint64
	// TableGrowths counts event table growth beyond its initial size.
	TableGrowths uint64

	// ActiveSlots is the number of registered events.
	ActiveSlots int
	// TableSize is the number of slots, empty or not.
	TableSize int
}

// LatencyMetrics summarises callback execution time over a rolling window.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// latencyWindowSize is the number of callback durations retained.
const latencyWindowSize = 512

type latencyWindow struct {
	samples [latencyWindowSize]time.Duration
	mu      sync.Mutex
	idx     int
	count   int
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.idx] = d
	w.idx = (w.idx + 1) % latencyWindowSize
	if w.count < latencyWindowSize {
		w.count++
	}
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() (m LatencyMetrics) {
	w.mu.Lock()
	sorted := slices.Clone(w.samples[:w.count])
	w.mu.Unlock()

	if len(sorted) == 0 {
		return m
	}
	slices.Sort(sorted)
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	m.Count = len(sorted)
	m.P50 = sorted[percentileIndex(len(sorted), 50)]
	m.P90 = sorted[percentileIndex(len(sorted), 90)]
	m.P99 = sorted[percentileIndex(len(sorted), 99)]
	m.Max = sorted[len(sorted)-1]
	m.Mean = sum / time.Duration(len(sorted))
	return m
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

type counters struct {
	latency      *latencyWindow
	iterations   atomic.Uint64
	wakeups      atomic.Uint64
	timersFired  atomic.Uint64
	ioCallbacks  atomic.Uint64
	panics       atomic.Uint64
	tableGrowths atomic.Uint64
}
