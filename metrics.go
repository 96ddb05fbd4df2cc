package poolx

import (
	"sync"
	"sync/atomic"
	"time"
)

// maxRollingSamples bounds the wait-time and use-time sample buffers
const maxRollingSamples = 1000

// MetricsSnapshot is an immutable point-in-time view of pool metrics
type MetricsSnapshot struct {
	// Gauges
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	IdleConnections   int64 `json:"idle_connections"`
	WaitingClients    int64 `json:"waiting_clients"`

	// Counters
	CreatedConnections   int64 `json:"created_connections"`
	DestroyedConnections int64 `json:"destroyed_connections"`
	BorrowedConnections  int64 `json:"borrowed_connections"`
	ConnectionErrors     int64 `json:"connection_errors"`
	AcquireTimeouts      int64 `json:"acquire_timeouts"`
	PoolExhaustions      int64 `json:"pool_exhaustions"`

	// Derived from bounded rolling samples
	AverageWaitTime time.Duration `json:"average_wait_time"`
	AverageUseTime  time.Duration `json:"average_use_time"`
	PoolHitRate     float64       `json:"pool_hit_rate"`
}

// metricsCollector maintains monotonically increasing counters plus two
// bounded rolling sample buffers. Counters use atomics; the sample rings
// are guarded by their own mutex so recording never contends with the
// registry lock.
type metricsCollector struct {
	created   int64
	destroyed int64
	borrowed  int64
	errors    int64
	timeouts  int64
	exhausted int64

	mu          sync.Mutex
	waitSamples []time.Duration
	useSamples  []time.Duration
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		waitSamples: make([]time.Duration, 0, maxRollingSamples),
		useSamples:  make([]time.Duration, 0, maxRollingSamples),
	}
}

func (m *metricsCollector) recordCreated()    { atomic.AddInt64(&m.created, 1) }
func (m *metricsCollector) recordDestroyed()  { atomic.AddInt64(&m.destroyed, 1) }
func (m *metricsCollector) recordBorrowed()   { atomic.AddInt64(&m.borrowed, 1) }
func (m *metricsCollector) recordError()      { atomic.AddInt64(&m.errors, 1) }
func (m *metricsCollector) recordTimeout()    { atomic.AddInt64(&m.timeouts, 1) }
func (m *metricsCollector) recordExhaustion() { atomic.AddInt64(&m.exhausted, 1) }

func (m *metricsCollector) recordWaitTime(d time.Duration) {
	m.mu.Lock()
	m.waitSamples = appendSample(m.waitSamples, d)
	m.mu.Unlock()
}

func (m *metricsCollector) recordUseTime(d time.Duration) {
	m.mu.Lock()
	m.useSamples = appendSample(m.useSamples, d)
	m.mu.Unlock()
}

// appendSample appends d, evicting the oldest entry once the buffer is full
func appendSample(buf []time.Duration, d time.Duration) []time.Duration {
	if len(buf) >= maxRollingSamples {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, d)
}

// snapshot computes the derived metrics on demand. The gauge fields are
// supplied by the pool, which owns the registry state.
func (m *metricsCollector) snapshot(total, active, idle, waiting int64) *MetricsSnapshot {
	s := &MetricsSnapshot{
		TotalConnections:     total,
		ActiveConnections:    active,
		IdleConnections:      idle,
		WaitingClients:       waiting,
		CreatedConnections:   atomic.LoadInt64(&m.created),
		DestroyedConnections: atomic.LoadInt64(&m.destroyed),
		BorrowedConnections:  atomic.LoadInt64(&m.borrowed),
		ConnectionErrors:     atomic.LoadInt64(&m.errors),
		AcquireTimeouts:      atomic.LoadInt64(&m.timeouts),
		PoolExhaustions:      atomic.LoadInt64(&m.exhausted),
	}

	m.mu.Lock()
	s.AverageWaitTime = meanDuration(m.waitSamples)
	s.AverageUseTime = meanDuration(m.useSamples)
	m.mu.Unlock()

	// A pool that has never created a connection has served every request
	// it possibly could; report a perfect hit rate
	if s.CreatedConnections == 0 {
		s.PoolHitRate = 100
	} else {
		s.PoolHitRate = float64(s.BorrowedConnections) / float64(s.CreatedConnections) * 100
	}

	return s
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples))
}
