package poolx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PooledConnection wraps a physical backend connection together with the
// bookkeeping the pool needs. The handle is owned exclusively by the pool
// while the connection is idle and lent to exactly one borrower while in
// use; the inUse/valid flags are guarded by the pool mutex.
type PooledConnection struct {
	// Immutable after creation
	id      string
	backend string

	// Physical connection, lent to the borrower while in use
	handle BackendConn

	// Lifecycle state, guarded by the owning pool's mutex
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      bool
	valid      bool

	// Failed-use counter, updated atomically so borrowers can bump it
	// without holding the pool lock
	errorCount int64
}

func newPooledConnection(handle BackendConn, backend string) *PooledConnection {
	now := time.Now()
	return &PooledConnection{
		id:         uuid.NewString(),
		backend:    backend,
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
		valid:      true,
	}
}

// ID returns the pool-assigned connection identifier
func (c *PooledConnection) ID() string {
	return c.id
}

// Backend returns the adapter name this connection belongs to
func (c *PooledConnection) Backend() string {
	return c.backend
}

// CreatedAt returns when the physical connection was opened
func (c *PooledConnection) CreatedAt() time.Time {
	return c.createdAt
}

// ErrorCount returns the number of failed uses recorded on this connection
func (c *PooledConnection) ErrorCount() int64 {
	return atomic.LoadInt64(&c.errorCount)
}

// Execute runs a backend operation on the lent handle. A failed use
// increments the connection's error counter.
func (c *PooledConnection) Execute(ctx context.Context, query string, params ...any) (any, error) {
	result, err := c.handle.Execute(ctx, query, params...)
	if err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		return nil, err
	}
	return result, nil
}

// Begin starts a transaction scoped to this connection
func (c *PooledConnection) Begin(ctx context.Context) error {
	return c.handle.Begin(ctx)
}

// Commit commits the transaction scoped to this connection
func (c *PooledConnection) Commit(ctx context.Context) error {
	return c.handle.Commit(ctx)
}

// Rollback aborts the transaction scoped to this connection
func (c *PooledConnection) Rollback(ctx context.Context) error {
	return c.handle.Rollback(ctx)
}
