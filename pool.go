package poolx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seasbee/go-logx"
)

// HealthStatus is the result of a pool health check
type HealthStatus struct {
	Status  string         `json:"status"` // "healthy" or "unhealthy"
	Details map[string]any `json:"details,omitempty"`
}

// waitRequest is a pending acquisition parked in the FIFO waiting queue.
// The result channel is buffered and fired exactly once: fulfillment and
// timeout-removal both happen under the pool mutex, so they can never race.
type waitRequest struct {
	enqueuedAt time.Time
	result     chan waitResult
}

type waitResult struct {
	conn *PooledConnection
	err  error
}

// Pool manages the lifecycle of backend connections under bounded
// concurrency: bounded creation, FIFO acquisition fairness, liveness
// validation, idle reaping, and retry/transaction execution on top.
type Pool struct {
	config  *PoolConfig
	adapter BackendAdapter
	events  EventSink
	metrics *metricsCollector
	probes  *probeCache

	// Registry state: the connection map, idle set, and waiting queue are
	// the only mutable shared state, all guarded by mu so that
	// "check available -> mark borrowed" is atomic
	mu      sync.Mutex
	conns   map[string]*PooledConnection
	idle    []*PooledConnection
	waiters []*waitRequest
	size    int // tracked connections plus in-flight creations

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Maintenance scheduler state
	maintTicker *time.Ticker
	maintDone   chan struct{}
	maintWg     sync.WaitGroup

	// Pool state
	closed int32 // Atomic flag set once by Shutdown
}

// New creates a connection pool over the given backend adapter, opens Min
// connections up front, and starts the maintenance scheduler. Lifecycle
// events are delivered to the given sinks; with no sinks they are dropped.
func New(adapter BackendAdapter, config *PoolConfig, sinks ...EventSink) (*Pool, error) {
	if adapter == nil {
		return nil, fmt.Errorf("backend adapter cannot be nil: %w", ErrInvalidConfig)
	}
	if config == nil {
		config = DefaultPoolConfig()
	}

	// Copy so later caller mutation cannot bypass validation
	configCopy := *config
	if err := validatePoolConfig(&configCopy); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	var events EventSink = nopSink{}
	switch len(sinks) {
	case 0:
	case 1:
		events = sinks[0]
	default:
		events = NewMultiSink(sinks...)
	}

	var probes *probeCache
	if configCopy.EnableProbeCache {
		var err error
		probes, err = newProbeCache(configCopy.ProbeCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create probe cache: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:  &configCopy,
		adapter: adapter,
		events:  events,
		metrics: newMetricsCollector(),
		probes:  probes,
		conns:   make(map[string]*PooledConnection),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Satisfy the minimum pool size before the pool is visible to callers
	for i := 0; i < configCopy.Min; i++ {
		conn, err := p.createConnection(ctx)
		if err != nil {
			p.teardownPartial()
			cancel()
			return nil, err
		}
		p.mu.Lock()
		p.size++
		p.conns[conn.id] = conn
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}

	p.startMaintenance()

	p.emit(EventPoolInitialized, "", nil, map[string]any{
		"min": configCopy.Min,
		"max": configCopy.Max,
	})
	logx.Info("Connection pool created",
		logx.String("backend", adapter.Name()),
		logx.Int("min", configCopy.Min),
		logx.Int("max", configCopy.Max),
		logx.Int("maxWaitingClients", configCopy.MaxWaitingClients),
		logx.Bool("testOnBorrow", configCopy.TestOnBorrow),
		logx.Bool("testOnReturn", configCopy.TestOnReturn),
		logx.Bool("testOnIdle", configCopy.TestOnIdle))

	return p, nil
}

// teardownPartial destroys whatever initialization managed to create
func (p *Pool) teardownPartial() {
	p.mu.Lock()
	conns := make([]*PooledConnection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		p.destroyConnection(c, "initialization failed")
	}
	p.probes.close()
}

// isClosed checks if the pool is shutting down
func (p *Pool) isClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// Get borrows a connection, waiting up to the configured acquire timeout
func (p *Pool) Get(ctx context.Context) (*PooledConnection, error) {
	return p.acquire(ctx, p.config.AcquireTimeout)
}

// GetWithTimeout borrows a connection with a per-call acquire window
func (p *Pool) GetWithTimeout(ctx context.Context, timeout time.Duration) (*PooledConnection, error) {
	if timeout <= 0 {
		timeout = p.config.AcquireTimeout
	}
	return p.acquire(ctx, timeout)
}

// acquire implements the acquisition state machine: reuse an idle
// connection, create below max, reject when the waiting queue is full, or
// park in the FIFO queue until release, timeout, or shutdown.
func (p *Pool) acquire(ctx context.Context, timeout time.Duration) (*PooledConnection, error) {
	start := time.Now()

	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		p.mu.Lock()

		if p.isClosed() {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// 1. Idle-valid connection available: borrow it
		if conn := p.popIdleLocked(); conn != nil {
			conn.inUse = true
			conn.lastUsedAt = time.Now()
			p.mu.Unlock()

			if p.config.TestOnBorrow && !p.validateConn(conn) {
				p.destroyConnection(conn, "failed borrow validation")
				continue
			}
			p.recordAcquire(start)
			return conn, nil
		}

		// 2. Below max: create on demand. The slot is reserved before the
		// lock is dropped so concurrent acquirers cannot oversubscribe.
		if p.size < p.config.Max {
			p.size++
			p.mu.Unlock()

			conn, err := p.createConnection(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				p.mu.Unlock()
				return nil, err
			}

			p.mu.Lock()
			if p.isClosed() {
				p.size--
				p.mu.Unlock()
				p.closeHandle(conn)
				p.metrics.recordDestroyed()
				return nil, ErrPoolClosed
			}
			conn.inUse = true
			p.conns[conn.id] = conn
			p.mu.Unlock()

			p.recordAcquire(start)
			return conn, nil
		}

		// 3. At capacity with a full queue: fail fast
		if len(p.waiters) >= p.config.MaxWaitingClients {
			p.mu.Unlock()
			p.metrics.recordExhaustion()
			return nil, fmt.Errorf("%w: %d clients already waiting", ErrPoolExhausted, p.config.MaxWaitingClients)
		}

		// 4. Park in the waiting queue
		req := &waitRequest{
			enqueuedAt: time.Now(),
			result:     make(chan waitResult, 1),
		}
		p.waiters = append(p.waiters, req)
		p.mu.Unlock()

		conn, err := p.await(ctx, req, timeout)
		if err != nil {
			return nil, err
		}
		if p.config.TestOnBorrow && !p.validateConn(conn) {
			p.destroyConnection(conn, "failed borrow validation")
			p.replaceForWaiters()
			continue
		}
		p.recordAcquire(start)
		return conn, nil
	}
}

// await blocks on a parked request until fulfillment, timeout, or caller
// cancellation. A request that loses the race against a concurrent
// fulfillment still takes the delivered connection instead of leaking it.
func (p *Pool) await(ctx context.Context, req *waitRequest, timeout time.Duration) (*PooledConnection, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil

	case <-timer.C:
		if p.removeWaiter(req) {
			p.metrics.recordTimeout()
			return nil, fmt.Errorf("%w: waited %s", ErrAcquireTimeout, timeout)
		}
		// Fulfilled in the same instant; the result is already buffered
		res := <-req.result
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil

	case <-ctx.Done():
		if p.removeWaiter(req) {
			return nil, fmt.Errorf("acquire cancelled: %w", ctx.Err())
		}
		res := <-req.result
		if res.conn != nil {
			// Caller is gone; return the connection to the pool
			if err := p.Release(res.conn); err != nil {
				logx.Warn("Failed to return connection after cancelled acquire",
					logx.String("connID", res.conn.id),
					logx.ErrorField(err))
			}
		}
		return nil, fmt.Errorf("acquire cancelled: %w", ctx.Err())
	}
}

// removeWaiter atomically removes a parked request from the queue. It
// returns false when the request was already fulfilled (or rejected), in
// which case its result channel holds the outcome.
func (p *Pool) removeWaiter(req *waitRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, w := range p.waiters {
		if w == req {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) recordAcquire(start time.Time) {
	p.metrics.recordBorrowed()
	p.metrics.recordWaitTime(time.Since(start))
}

// Release returns a borrowed connection to the pool. The oldest waiting
// request is served first, before the connection is ever counted as idle.
func (p *Pool) Release(conn *PooledConnection) error {
	if conn == nil {
		return fmt.Errorf("cannot release nil connection: %w", ErrConnectionNotTracked)
	}

	p.mu.Lock()
	tracked, ok := p.conns[conn.id]
	if !ok || tracked != conn {
		p.mu.Unlock()
		return fmt.Errorf("connection %s: %w", conn.id, ErrConnectionNotTracked)
	}
	if !conn.inUse {
		p.mu.Unlock()
		logx.Warn("Connection released twice", logx.String("connID", conn.id))
		return nil
	}

	borrowedAt := conn.lastUsedAt
	conn.inUse = false
	conn.lastUsedAt = time.Now()
	p.mu.Unlock()

	p.metrics.recordUseTime(time.Since(borrowedAt))

	// Borrowed connections outliving shutdown are destroyed on return
	if p.isClosed() {
		p.destroyConnection(conn, "pool shutdown")
		return nil
	}

	if p.config.TestOnReturn && !p.validateConn(conn) {
		p.destroyConnection(conn, "failed return validation")
		p.replaceForWaiters()
		return nil
	}

	p.mu.Lock()
	p.handOffOrIdleLocked(conn)
	p.drainWaitersLocked()
	p.mu.Unlock()
	return nil
}

// popIdleLocked removes and returns the most recently idled valid
// connection, or nil when none is idle
func (p *Pool) popIdleLocked() *PooledConnection {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		conn := p.idle[n]
		p.idle = p.idle[:n]
		if conn.valid {
			return conn
		}
	}
	return nil
}

// removeIdleLocked drops conn from the idle set if present
func (p *Pool) removeIdleLocked(conn *PooledConnection) {
	for i, c := range p.idle {
		if c == conn {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

// handOffOrIdleLocked offers conn to the head of the waiting queue, keeping
// it borrowed; with no waiters it joins the idle set
func (p *Pool) handOffOrIdleLocked(conn *PooledConnection) {
	if _, ok := p.conns[conn.id]; !ok {
		// Destroyed while in transit
		return
	}

	if len(p.waiters) > 0 {
		req := p.waiters[0]
		p.waiters = p.waiters[1:]
		conn.inUse = true
		conn.lastUsedAt = time.Now()
		req.result <- waitResult{conn: conn}
		return
	}

	conn.inUse = false
	p.idle = append(p.idle, conn)
}

// drainWaitersLocked serves parked requests strictly in enqueue order while
// idle-valid connections remain
func (p *Pool) drainWaitersLocked() {
	for len(p.waiters) > 0 {
		conn := p.popIdleLocked()
		if conn == nil {
			return
		}
		req := p.waiters[0]
		p.waiters = p.waiters[1:]
		conn.inUse = true
		conn.lastUsedAt = time.Now()
		req.result <- waitResult{conn: conn}
	}
}

// replaceForWaiters spawns a replacement connection when a destroy left
// parked requests stranded below max capacity
func (p *Pool) replaceForWaiters() {
	p.mu.Lock()
	if p.isClosed() || len(p.waiters) == 0 || p.size >= p.config.Max {
		p.mu.Unlock()
		return
	}
	p.size++
	p.mu.Unlock()

	go func() {
		conn, err := p.createConnection(p.ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			logx.Warn("Failed to create replacement connection", logx.ErrorField(err))
			return
		}

		p.mu.Lock()
		if p.isClosed() {
			p.size--
			p.mu.Unlock()
			p.closeHandle(conn)
			p.metrics.recordDestroyed()
			return
		}
		p.conns[conn.id] = conn
		p.handOffOrIdleLocked(conn)
		p.mu.Unlock()
	}()
}

// createConnection opens a physical connection via the backend adapter,
// bounded by CreateTimeout. Registration and size accounting belong to the
// caller; a failed create leaves no partial registry entry behind.
func (p *Pool) createConnection(ctx context.Context) (*PooledConnection, error) {
	cctx, cancel := context.WithTimeout(ctx, p.config.CreateTimeout)
	defer cancel()

	handle, err := p.adapter.Connect(cctx)
	if err != nil {
		p.metrics.recordError()
		logx.Error("Failed to create backend connection",
			logx.String("backend", p.adapter.Name()),
			logx.ErrorField(err))
		return nil, NewPoolErrorWithCode("create", "", "failed to open backend connection",
			"CONNECTION_CREATE", fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}

	conn := newPooledConnection(handle, p.adapter.Name())
	p.metrics.recordCreated()
	p.emit(EventConnectionCreated, conn.id, nil, nil)
	return conn, nil
}

// validateConn performs the liveness probe bounded by ValidateTimeout. A
// fresh probe-cache entry short-circuits the ping; failures invalidate the
// cache entry and bump the connection's error counter.
func (p *Pool) validateConn(conn *PooledConnection) bool {
	if p.probes.isFresh(conn.id) {
		return true
	}

	vctx, cancel := context.WithTimeout(context.Background(), p.config.ValidateTimeout)
	defer cancel()

	if err := conn.handle.Ping(vctx); err != nil {
		atomic.AddInt64(&conn.errorCount, 1)
		p.metrics.recordError()
		p.probes.invalidate(conn.id)
		p.emit(EventValidationError, conn.id, err, nil)
		logx.Warn("Connection failed validation",
			logx.String("connID", conn.id),
			logx.String("backend", conn.backend),
			logx.ErrorField(err))
		return false
	}

	atomic.StoreInt64(&conn.errorCount, 0)
	p.probes.markHealthy(conn.id)
	return true
}

// destroyConnection removes conn from the registry and closes its handle.
// Safe to call more than once for the same connection.
func (p *Pool) destroyConnection(conn *PooledConnection, reason string) {
	p.mu.Lock()
	if _, ok := p.conns[conn.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.conns, conn.id)
	p.removeIdleLocked(conn)
	p.size--
	conn.valid = false
	p.mu.Unlock()

	p.probes.invalidate(conn.id)
	p.closeHandle(conn)
	p.metrics.recordDestroyed()
	p.emit(EventConnectionDestroyed, conn.id, nil, map[string]any{"reason": reason})
}

// closeHandle tears down the physical connection, bounded by DestroyTimeout
func (p *Pool) closeHandle(conn *PooledConnection) {
	dctx, cancel := context.WithTimeout(context.Background(), p.config.DestroyTimeout)
	defer cancel()

	if err := conn.handle.Close(dctx); err != nil {
		logx.Warn("Failed to close backend connection",
			logx.String("connID", conn.id),
			logx.ErrorField(err))
	}
}

// GetMetrics returns an immutable point-in-time metrics snapshot
func (p *Pool) GetMetrics() *MetricsSnapshot {
	p.mu.Lock()
	total := int64(len(p.conns))
	var active int64
	for _, c := range p.conns {
		if c.inUse {
			active++
		}
	}
	idle := int64(len(p.idle))
	waiting := int64(len(p.waiters))
	p.mu.Unlock()

	return p.metrics.snapshot(total, active, idle, waiting)
}

// HealthCheck reports pool health: unhealthy when more than half of all
// uses have errored, or when callers are queued with the pool at capacity
func (p *Pool) HealthCheck() HealthStatus {
	m := p.GetMetrics()

	details := map[string]any{
		"backend":           p.adapter.Name(),
		"total_connections": m.TotalConnections,
		"active":            m.ActiveConnections,
		"idle":              m.IdleConnections,
		"waiting":           m.WaitingClients,
		"connection_errors": m.ConnectionErrors,
	}

	switch {
	case p.isClosed():
		details["reason"] = "pool is shut down"
		return HealthStatus{Status: "unhealthy", Details: details}
	case float64(m.ConnectionErrors) > 0.5*float64(m.TotalConnections):
		details["reason"] = "error rate exceeds half of pool size"
		return HealthStatus{Status: "unhealthy", Details: details}
	case m.WaitingClients > 0 && m.TotalConnections >= int64(p.config.Max):
		details["reason"] = "pool saturated with waiting clients"
		return HealthStatus{Status: "unhealthy", Details: details}
	}

	return HealthStatus{Status: "healthy", Details: details}
}

// Shutdown transitions the pool to its terminal state: new acquisitions are
// rejected, the maintenance scheduler is joined, every queued request is
// rejected, and all tracked connections are destroyed concurrently.
// Borrowed connections are destroyed as they are released.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil // Already shut down
	}

	logx.Info("Shutting down connection pool", logx.String("backend", p.adapter.Name()))

	// Join the maintenance scheduler before touching the registry
	p.cancel()
	if p.maintTicker != nil {
		p.maintTicker.Stop()
		close(p.maintDone)
	}
	p.maintWg.Wait()

	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	conns := make([]*PooledConnection, 0, len(p.conns))
	for _, c := range p.conns {
		if !c.inUse {
			conns = append(conns, c)
		}
	}
	p.mu.Unlock()

	for _, w := range waiters {
		w.result <- waitResult{err: ErrPoolClosed}
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *PooledConnection) {
			defer wg.Done()
			p.destroyConnection(c, "pool shutdown")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	p.probes.close()
	p.emit(EventPoolShutdown, "", nil, map[string]any{
		"rejected_waiters":      len(waiters),
		"destroyed_connections": len(conns),
	})
	logx.Info("Connection pool shut down",
		logx.String("backend", p.adapter.Name()),
		logx.Int("rejectedWaiters", len(waiters)),
		logx.Int("destroyedConnections", len(conns)))
	return nil
}

// Close shuts the pool down without a deadline
func (p *Pool) Close() error {
	return p.Shutdown(context.Background())
}

// emit publishes a lifecycle notification to the configured sinks
func (p *Pool) emit(t EventType, connID string, err error, details map[string]any) {
	event := PoolEvent{
		Type:      t,
		Backend:   p.adapter.Name(),
		ConnID:    connID,
		Timestamp: time.Now(),
		Details:   details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	p.events.Publish(event)
}
