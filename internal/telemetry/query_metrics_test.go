package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMetrics_RecordAndSummarize(t *testing.T) {
	m := NewQueryMetrics()

	m.Record("hybrid", 10*time.Millisecond, 5)
	m.Record("hybrid", 30*time.Millisecond, 0)
	m.Record("vector", 20*time.Millisecond, 3)

	s := m.Summary()
	assert.Equal(t, int64(3), s.TotalQueries)
	require.Len(t, s.Modes, 2)

	// Sorted by mode name.
	assert.Equal(t, "hybrid", s.Modes[0].Mode)
	assert.Equal(t, "vector", s.Modes[1].Mode)

	hybrid := s.Modes[0]
	assert.Equal(t, int64(2), hybrid.Count)
	assert.Equal(t, int64(1), hybrid.ZeroResults)
	assert.Equal(t, 20*time.Millisecond, hybrid.AvgLatency)
}

func TestQueryMetrics_P95(t *testing.T) {
	m := NewQueryMetrics()
	for i := 1; i <= 100; i++ {
		m.Record("keyword", time.Duration(i)*time.Millisecond, 1)
	}

	s := m.Summary()
	require.Len(t, s.Modes, 1)
	assert.Equal(t, 95*time.Millisecond, s.Modes[0].P95Latency)
}

func TestQueryMetrics_WindowEvictsOldest(t *testing.T) {
	m := NewQueryMetrics()

	// Flood with slow samples, then push them out with fast ones.
	for i := 0; i < DefaultWindow; i++ {
		m.Record("vector", time.Second, 1)
	}
	for i := 0; i < DefaultWindow; i++ {
		m.Record("vector", time.Millisecond, 1)
	}

	s := m.Summary()
	require.Len(t, s.Modes, 1)
	assert.Equal(t, time.Millisecond, s.Modes[0].P95Latency,
		"window must only reflect recent samples")
}

func TestQueryMetrics_NilCollectorIsSafe(t *testing.T) {
	var m *QueryMetrics
	m.Record("hybrid", time.Millisecond, 1)
	assert.Zero(t, m.Summary().TotalQueries)
}

func TestRing_WrapAround(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.add(time.Duration(i))
	}
	assert.Equal(t, []time.Duration{3, 4, 5}, r.all())
}
