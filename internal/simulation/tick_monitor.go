package simulation

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// jitterWindow is the number of recent ticks used for the jitter estimate.
const jitterWindow = 256

// TickMetricsSnapshot summarises observed physics tick compute durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// Jitter is the standard deviation over the most recent ticks.
	Jitter time.Duration
}

// Utilisation is the share of the fixed step consumed by the average tick.
func (s TickMetricsSnapshot) Utilisation(step time.Duration) float64 {
	if step <= 0 {
		return 0
	}
	return float64(s.Average) / float64(step)
}

// TickMonitor accumulates timing statistics for the simulation loop.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
	window  []float64
	next    int
}

// NewTickMonitor constructs an empty monitor ready to collect samples.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{window: make([]float64, 0, jitterWindow)}
}

// Observe records the duration of a completed simulation tick.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	//1.- Keep a ring of recent samples for the deviation estimate.
	if len(m.window) < jitterWindow {
		m.window = append(m.window, float64(duration))
		return
	}
	m.window[m.next] = float64(duration)
	m.next = (m.next + 1) % jitterWindow
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := TickMetricsSnapshot{Samples: m.samples, Max: m.max, Last: m.last}
	if m.samples > 0 {
		snapshot.Average = m.total / time.Duration(m.samples)
	}
	if len(m.window) > 1 {
		snapshot.Jitter = time.Duration(stat.StdDev(m.window, nil))
	}
	return snapshot
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.window = m.window[:0]
	m.next = 0
	m.mu.Unlock()
}
