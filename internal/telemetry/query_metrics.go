// Package telemetry keeps lightweight in-memory query metrics for the
// health endpoint and the doctor command. Nothing here persists; the window
// resets with the instance.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is how many recent queries each mode retains for latency
// percentiles.
const DefaultWindow = 256

// ring is a fixed-capacity circular buffer; full writes evict the oldest
// entry.
type ring struct {
	items []time.Duration
	head  int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]time.Duration, capacity)}
}

func (r *ring) add(d time.Duration) {
	r.items[r.head] = d
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

func (r *ring) all() []time.Duration {
	out := make([]time.Duration, r.size)
	if r.size < len(r.items) {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[len(r.items)-r.head:], r.items[:r.head])
	}
	return out
}

// modeStats aggregates one search mode.
type modeStats struct {
	count       int64
	zeroResults int64
	totalTime   time.Duration
	recent      *ring
}

// ModeSummary is the per-mode view the health endpoint reports.
type ModeSummary struct {
	Mode        string        `json:"mode"`
	Count       int64         `json:"count"`
	ZeroResults int64         `json:"zero_results"`
	AvgLatency  time.Duration `json:"avg_latency_ms"`
	P95Latency  time.Duration `json:"p95_latency_ms"`
}

// Summary is the whole collector's view.
type Summary struct {
	TotalQueries int64         `json:"total_queries"`
	Since        time.Time     `json:"since"`
	Modes        []ModeSummary `json:"modes"`
}

// QueryMetrics collects per-mode query counts and latency over a sliding
// window. Safe for concurrent use; a nil *QueryMetrics ignores records.
type QueryMetrics struct {
	mu     sync.Mutex
	window int
	modes  map[string]*modeStats
	total  int64
	since  time.Time
}

func NewQueryMetrics() *QueryMetrics {
	return &QueryMetrics{
		window: DefaultWindow,
		modes:  make(map[string]*modeStats),
		since:  time.Now().UTC(),
	}
}

// Record captures one completed query.
func (m *QueryMetrics) Record(mode string, latency time.Duration, results int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.modes[mode]
	if !ok {
		s = &modeStats{recent: newRing(m.window)}
		m.modes[mode] = s
	}
	s.count++
	s.totalTime += latency
	s.recent.add(latency)
	if results == 0 {
		s.zeroResults++
	}
	m.total++
}

// Summary reports aggregates per mode, sorted by mode name.
func (m *QueryMetrics) Summary() Summary {
	if m == nil {
		return Summary{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Summary{TotalQueries: m.total, Since: m.since}
	for mode, s := range m.modes {
		out.Modes = append(out.Modes, ModeSummary{
			Mode:        mode,
			Count:       s.count,
			ZeroResults: s.zeroResults,
			AvgLatency:  time.Duration(int64(s.totalTime) / s.count),
			P95Latency:  percentile(s.recent.all(), 0.95),
		})
	}
	sort.Slice(out.Modes, func(i, j int) bool {
		return out.Modes[i].Mode < out.Modes[j].Mode
	})
	return out
}

// percentile returns the p-th latency from the window using the
// nearest-rank method.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	rank := int(float64(len(samples))*p+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(samples) {
		rank = len(samples) - 1
	}
	return samples[rank]
}
