package poolx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *PoolConfig {
	return &PoolConfig{
		Min:               2,
		Max:               5,
		AcquireTimeout:    2 * time.Second,
		IdleTimeout:       time.Hour,
		CreateTimeout:     time.Second,
		DestroyTimeout:    time.Second,
		ValidateTimeout:   time.Second,
		ReapInterval:      time.Hour,
		MaxWaitingClients: 10,
	}
}

func newTestPool(t *testing.T, config *PoolConfig) (*Pool, *MemoryAdapter) {
	t.Helper()
	adapter := NewMemoryAdapter()
	pool, err := New(adapter, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
	})
	return pool, adapter
}

func waitingLen(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func TestNew_Configuration(t *testing.T) {
	tests := []struct {
		name        string
		config      *PoolConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "With_nil_config",
			config:      nil,
			expectError: false, // Uses default config instead of error
		},
		{
			name: "With_negative_min",
			config: &PoolConfig{
				Min: -1,
				Max: 5,
			},
			expectError: true,
			errorMsg:    "min connections cannot be negative",
		},
		{
			name: "With_zero_max",
			config: &PoolConfig{
				Min: 0,
				Max: 0,
			},
			expectError: true,
			errorMsg:    "max connections must be positive",
		},
		{
			name: "With_min_greater_than_max",
			config: &PoolConfig{
				Min:            5,
				Max:            2,
				AcquireTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "min connections cannot exceed max connections",
		},
		{
			name: "With_zero_acquire_timeout",
			config: &PoolConfig{
				Min: 0,
				Max: 5,
			},
			expectError: true,
			errorMsg:    "acquire timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := New(NewMemoryAdapter(), tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.True(t, IsInvalidConfig(err))
				return
			}
			require.NoError(t, err)
			assert.NoError(t, pool.Close())
		})
	}
}

func TestNew_NilAdapter(t *testing.T) {
	pool, err := New(nil, testConfig())
	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))
	assert.Nil(t, pool)
}

func TestNew_InitializesToMinimumSize(t *testing.T) {
	pool, adapter := newTestPool(t, testConfig())

	m := pool.GetMetrics()
	assert.Equal(t, int64(2), m.TotalConnections)
	assert.Equal(t, int64(2), m.IdleConnections)
	assert.Equal(t, int64(0), m.ActiveConnections)
	assert.Equal(t, int64(2), m.CreatedConnections)
	assert.Equal(t, int64(2), adapter.Connects())
}

func TestNew_CreateFailurePropagates(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.SetFailConnect(true)

	pool, err := New(adapter, testConfig())
	require.Error(t, err)
	assert.True(t, IsConnectionFailed(err))
	assert.Nil(t, pool)
}

func TestGet_ReusesIdleConnection(t *testing.T) {
	pool, adapter := newTestPool(t, testConfig())
	ctx := context.Background()

	conn, err := pool.Get(ctx)
	require.NoError(t, err)
	id := conn.ID()
	require.NoError(t, pool.Release(conn))

	conn, err = pool.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, conn.ID())
	assert.Equal(t, int64(2), adapter.Connects(), "no new connection should be created")
	require.NoError(t, pool.Release(conn))
}

func TestGet_CreatesOnDemandUpToMax(t *testing.T) {
	config := testConfig()
	config.Min = 1
	config.Max = 3
	pool, adapter := newTestPool(t, config)
	ctx := context.Background()

	conns := make([]*PooledConnection, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	assert.Equal(t, int64(3), adapter.Connects())
	m := pool.GetMetrics()
	assert.Equal(t, int64(3), m.TotalConnections)
	assert.Equal(t, int64(3), m.ActiveConnections)

	for _, conn := range conns {
		require.NoError(t, pool.Release(conn))
	}
}

func TestGet_PoolExhaustedWhenQueueFull(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	config.MaxWaitingClients = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	// First acquisition takes the only slot
	held, err := pool.Get(ctx)
	require.NoError(t, err)

	// Second parks in the queue
	got := make(chan error, 1)
	go func() {
		conn, err := pool.Get(ctx)
		if err == nil {
			err = pool.Release(conn)
		}
		got <- err
	}()
	require.Eventually(t, func() bool { return waitingLen(pool) == 1 },
		time.Second, 5*time.Millisecond)

	// Third is rejected immediately
	_, err = pool.Get(ctx)
	require.Error(t, err)
	assert.True(t, IsPoolExhausted(err))
	assert.Equal(t, int64(1), pool.GetMetrics().PoolExhaustions)

	// Releasing serves the queued request
	require.NoError(t, pool.Release(held))
	assert.NoError(t, <-got)
}

func TestGet_AcquireTimeout(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	held, err := pool.Get(ctx)
	require.NoError(t, err)

	_, err = pool.GetWithTimeout(ctx, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsAcquireTimeout(err))

	// The timed-out request left the queue
	assert.Equal(t, 0, waitingLen(pool))
	assert.Equal(t, int64(1), pool.GetMetrics().AcquireTimeouts)

	require.NoError(t, pool.Release(held))
}

func TestGet_ContextCancelledWhileWaiting(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	pool, _ := newTestPool(t, config)

	held, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		_, err := pool.Get(ctx)
		got <- err
	}()
	require.Eventually(t, func() bool { return waitingLen(pool) == 1 },
		time.Second, 5*time.Millisecond)

	cancel()
	err = <-got
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, waitingLen(pool))

	require.NoError(t, pool.Release(held))
}

func TestGet_WaitersServedInFIFOOrder(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	held, err := pool.Get(ctx)
	require.NoError(t, err)

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			conn, err := pool.Get(ctx)
			if err != nil {
				order <- -1
				return
			}
			order <- i
			_ = pool.Release(conn)
		}()
		// Each waiter must be enqueued before the next starts
		require.Eventually(t, func() bool { return waitingLen(pool) == i+1 },
			time.Second, time.Millisecond)
	}

	require.NoError(t, pool.Release(held))

	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got, "waiters must complete in enqueue order")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for queued acquisition")
		}
	}
}

func TestGet_NeverLendsSameConnectionTwice(t *testing.T) {
	config := testConfig()
	config.Min = 2
	config.Max = 4
	config.MaxWaitingClients = 100
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	var active sync.Map
	var wg sync.WaitGroup

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				conn, err := pool.Get(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if _, loaded := active.LoadOrStore(conn.ID(), true); loaded {
					t.Errorf("connection %s lent to two borrowers", conn.ID())
				}
				time.Sleep(time.Millisecond)
				active.Delete(conn.ID())
				if err := pool.Release(conn); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	m := pool.GetMetrics()
	assert.Equal(t, int64(0), m.ActiveConnections)
	assert.LessOrEqual(t, m.TotalConnections, int64(4))
}

func TestGet_TestOnBorrowDestroysInvalidConnection(t *testing.T) {
	config := testConfig()
	config.Min = 1
	config.Max = 2
	config.TestOnBorrow = true
	pool, adapter := newTestPool(t, config)

	adapter.SetFailPing(true)
	conn, err := pool.Get(context.Background())
	require.NoError(t, err, "a fresh connection replaces the invalid one")
	adapter.SetFailPing(false)

	m := pool.GetMetrics()
	assert.Equal(t, int64(1), m.DestroyedConnections)
	assert.Equal(t, int64(2), m.CreatedConnections)
	require.NoError(t, pool.Release(conn))
}

func TestRelease_TestOnReturnDestroysInvalidConnection(t *testing.T) {
	config := testConfig()
	config.Min = 1
	config.Max = 2
	config.TestOnReturn = true
	pool, adapter := newTestPool(t, config)

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)

	adapter.SetFailPing(true)
	require.NoError(t, pool.Release(conn))
	adapter.SetFailPing(false)

	m := pool.GetMetrics()
	assert.Equal(t, int64(1), m.DestroyedConnections)
	assert.Equal(t, int64(0), m.IdleConnections)
	assert.Equal(t, int64(1), adapter.Closes())
}

func TestRelease_UntrackedConnection(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())
	other, _ := newTestPool(t, testConfig())

	conn, err := other.Get(context.Background())
	require.NoError(t, err)

	err = pool.Release(conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionNotTracked)

	require.NoError(t, other.Release(conn))
}

func TestRelease_DoubleReleaseIsNoop(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Release(conn))
	require.NoError(t, pool.Release(conn))

	m := pool.GetMetrics()
	assert.Equal(t, int64(2), m.IdleConnections)
}

func TestShutdown_RejectsNewAndQueuedAcquisitions(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	held, err := pool.Get(ctx)
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		_, err := pool.Get(ctx)
		queued <- err
	}()
	require.Eventually(t, func() bool { return waitingLen(pool) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, pool.Shutdown(ctx))

	// The queued request is rejected deterministically
	err = <-queued
	assert.True(t, IsPoolClosed(err))

	// New acquisitions are rejected immediately
	_, err = pool.Get(ctx)
	assert.True(t, IsPoolClosed(err))

	// Borrowed connections are destroyed as they come back
	require.NoError(t, pool.Release(held))
	m := pool.GetMetrics()
	assert.Equal(t, int64(0), m.TotalConnections)
	assert.Equal(t, int64(1), m.DestroyedConnections)
}

func TestShutdown_DestroysIdleConnections(t *testing.T) {
	pool, adapter := newTestPool(t, testConfig())

	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, int64(2), adapter.Closes())
	m := pool.GetMetrics()
	assert.Equal(t, int64(0), m.TotalConnections)
	assert.Equal(t, int64(2), m.DestroyedConnections)
}

func TestShutdown_Idempotent(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Close())
}

func TestHealthCheck_Healthy(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())

	health := pool.HealthCheck()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Details["backend"])
}

func TestHealthCheck_UnhealthyOnErrorRate(t *testing.T) {
	config := testConfig()
	config.Min = 1
	pool, _ := newTestPool(t, config)

	// Two errors against a single connection exceed the 50% threshold
	pool.metrics.recordError()
	pool.metrics.recordError()

	health := pool.HealthCheck()
	assert.Equal(t, "unhealthy", health.Status)
}

func TestHealthCheck_UnhealthyWhenSaturated(t *testing.T) {
	config := testConfig()
	config.Min = 0
	config.Max = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	held, err := pool.Get(ctx)
	require.NoError(t, err)

	go func() {
		conn, err := pool.Get(ctx)
		if err == nil {
			_ = pool.Release(conn)
		}
	}()
	require.Eventually(t, func() bool { return waitingLen(pool) == 1 },
		time.Second, 5*time.Millisecond)

	health := pool.HealthCheck()
	assert.Equal(t, "unhealthy", health.Status)

	require.NoError(t, pool.Release(held))
}

func TestHealthCheck_UnhealthyAfterShutdown(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())
	require.NoError(t, pool.Shutdown(context.Background()))

	health := pool.HealthCheck()
	assert.Equal(t, "unhealthy", health.Status)
}

func TestGetMetrics_HitRate(t *testing.T) {
	config := testConfig()
	config.Min = 0
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	// Nothing created yet: perfect hit rate by definition
	assert.Equal(t, float64(100), pool.GetMetrics().PoolHitRate)

	conn, err := pool.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Release(conn))

	for i := 0; i < 3; i++ {
		conn, err := pool.Get(ctx)
		require.NoError(t, err)
		require.NoError(t, pool.Release(conn))
	}

	// 4 borrows against 1 created connection
	m := pool.GetMetrics()
	assert.Equal(t, int64(1), m.CreatedConnections)
	assert.Equal(t, int64(4), m.BorrowedConnections)
	assert.Equal(t, float64(400), m.PoolHitRate)
}

func TestErrorCount_ResetOnSuccessfulValidation(t *testing.T) {
	config := testConfig()
	config.Min = 1
	config.Max = 1
	config.TestOnBorrow = true
	pool, adapter := newTestPool(t, config)
	ctx := context.Background()

	conn, err := pool.Get(ctx)
	require.NoError(t, err)

	adapter.SetFailExecute(true)
	_, execErr := conn.Execute(ctx, "get", "k")
	require.Error(t, execErr)
	adapter.SetFailExecute(false)
	assert.Equal(t, int64(1), conn.ErrorCount())

	require.NoError(t, pool.Release(conn))
	conn, err = pool.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), conn.ErrorCount(), "borrow validation resets the error count")
	require.NoError(t, pool.Release(conn))
}
