package poolx

import (
	"time"

	"github.com/seasbee/go-logx"
)

// startMaintenance launches the background reaper. Each pass completes
// before the next is scheduled; Shutdown joins the goroutine through the
// done channel and wait group.
func (p *Pool) startMaintenance() {
	p.maintTicker = time.NewTicker(p.config.ReapInterval)
	p.maintDone = make(chan struct{})

	p.maintWg.Add(1)
	go func() {
		defer p.maintWg.Done()
		defer func() {
			if r := recover(); r != nil {
				logx.Error("Maintenance goroutine panicked", logx.Any("panic", r))
			}
		}()

		for {
			select {
			case <-p.maintTicker.C:
				p.runMaintenance()
			case <-p.maintDone:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// runMaintenance performs one reaper pass: validate idle connections,
// destroy those idle past IdleTimeout while the pool is above Min, and top
// the pool back up to Min. Idle-timeout enforcement lives only here; the
// release path never checks it.
func (p *Pool) runMaintenance() {
	if p.isClosed() {
		return
	}

	start := time.Now()
	var validated, destroyed, created int

	// Sweep the idle set. Each connection is borrowed for the duration of
	// its probe so acquirers never observe a half-checked connection.
	p.mu.Lock()
	sweep := make([]*PooledConnection, len(p.idle))
	copy(sweep, p.idle)
	p.idle = p.idle[:0]
	for _, c := range sweep {
		c.inUse = true
	}
	p.mu.Unlock()

	for _, conn := range sweep {
		if p.config.TestOnIdle {
			validated++
			if !p.validateConn(conn) {
				p.destroyConnection(conn, "failed idle validation")
				destroyed++
				continue
			}
		}

		p.mu.Lock()
		if time.Since(conn.lastUsedAt) > p.config.IdleTimeout && p.size > p.config.Min {
			p.mu.Unlock()
			p.destroyConnection(conn, "idle timeout")
			destroyed++
			continue
		}
		conn.inUse = false
		p.handOffOrIdleLocked(conn)
		p.mu.Unlock()
	}

	// Top the pool back up to its minimum size, reserving one slot at a
	// time so a failed or aborted create never strands capacity
	for {
		p.mu.Lock()
		if p.isClosed() || p.size >= p.config.Min {
			p.mu.Unlock()
			break
		}
		p.size++
		p.mu.Unlock()

		conn, err := p.createConnection(p.ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			logx.Warn("Maintenance failed to restore minimum pool size",
				logx.String("backend", p.adapter.Name()),
				logx.ErrorField(err))
			break
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
		p.drainWaitersLocked()
		p.mu.Unlock()
		created++
	}

	p.emit(EventMaintenanceCompleted, "", nil, map[string]any{
		"validated": validated,
		"destroyed": destroyed,
		"created":   created,
		"elapsed":   time.Since(start).String(),
	})

	snapshot := p.GetMetrics()
	p.emit(EventMetricsUpdated, "", nil, map[string]any{"snapshot": snapshot})

	logx.Debug("Maintenance pass completed",
		logx.String("backend", p.adapter.Name()),
		logx.Int("validated", validated),
		logx.Int("destroyed", destroyed),
		logx.Int("created", created),
		logx.Int64("idle", snapshot.IdleConnections),
		logx.Int64("total", snapshot.TotalConnections))
}
