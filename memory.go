package poolx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryAdapter is an in-memory key-value backend. It exists for tests and
// local development: connections are cheap, deterministic, and individual
// failure modes can be injected at runtime.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data map[string]any

	// Failure injection, flipped atomically so tests can toggle mid-flight
	failConnect int32
	failPing    int32
	failExecute int32

	// Counters
	connects int64
	closes   int64
	executes int64
}

// NewMemoryAdapter creates an empty in-memory backend
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		data: make(map[string]any),
	}
}

// Name implements BackendAdapter
func (a *MemoryAdapter) Name() string {
	return "memory"
}

// Connect implements BackendAdapter
func (a *MemoryAdapter) Connect(ctx context.Context) (BackendConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if atomic.LoadInt32(&a.failConnect) == 1 {
		return nil, fmt.Errorf("memory: connect failure injected")
	}
	atomic.AddInt64(&a.connects, 1)
	return &memoryConn{adapter: a}, nil
}

// SetFailConnect toggles injected Connect failures
func (a *MemoryAdapter) SetFailConnect(fail bool) {
	storeFlag(&a.failConnect, fail)
}

// SetFailPing toggles injected Ping failures
func (a *MemoryAdapter) SetFailPing(fail bool) {
	storeFlag(&a.failPing, fail)
}

// SetFailExecute toggles injected Execute failures
func (a *MemoryAdapter) SetFailExecute(fail bool) {
	storeFlag(&a.failExecute, fail)
}

// Connects returns how many connections have been opened
func (a *MemoryAdapter) Connects() int64 {
	return atomic.LoadInt64(&a.connects)
}

// Closes returns how many connections have been closed
func (a *MemoryAdapter) Closes() int64 {
	return atomic.LoadInt64(&a.closes)
}

// Executes returns how many Execute calls have been attempted
func (a *MemoryAdapter) Executes() int64 {
	return atomic.LoadInt64(&a.executes)
}

func storeFlag(flag *int32, set bool) {
	if set {
		atomic.StoreInt32(flag, 1)
	} else {
		atomic.StoreInt32(flag, 0)
	}
}

// memoryConn is a single logical connection to the shared in-memory store.
// Transactions stage writes locally and apply them on commit.
type memoryConn struct {
	adapter *MemoryAdapter

	mu      sync.Mutex
	closed  bool
	inTx    bool
	staged  map[string]any
	deleted map[string]bool
}

// Ping implements BackendConn
func (c *memoryConn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if atomic.LoadInt32(&c.adapter.failPing) == 1 {
		return fmt.Errorf("memory: ping failure injected")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("memory: connection is closed")
	}
	return nil
}

// Execute implements BackendConn. Supported operations: "get" key,
// "set" key value, "del" key.
func (c *memoryConn) Execute(ctx context.Context, query string, params ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddInt64(&c.adapter.executes, 1)
	if atomic.LoadInt32(&c.adapter.failExecute) == 1 {
		return nil, fmt.Errorf("memory: execute failure injected")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("memory: connection is closed")
	}

	switch query {
	case "get":
		key, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		if c.inTx {
			if c.deleted[key] {
				return nil, nil
			}
			if v, ok := c.staged[key]; ok {
				return v, nil
			}
		}
		c.adapter.mu.RLock()
		v := c.adapter.data[key]
		c.adapter.mu.RUnlock()
		return v, nil

	case "set":
		key, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		if len(params) < 2 {
			return nil, fmt.Errorf("memory: set requires a value")
		}
		if c.inTx {
			c.staged[key] = params[1]
			delete(c.deleted, key)
			return nil, nil
		}
		c.adapter.mu.Lock()
		c.adapter.data[key] = params[1]
		c.adapter.mu.Unlock()
		return nil, nil

	case "del":
		key, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		if c.inTx {
			delete(c.staged, key)
			c.deleted[key] = true
			return nil, nil
		}
		c.adapter.mu.Lock()
		delete(c.adapter.data, key)
		c.adapter.mu.Unlock()
		return nil, nil
	}

	return nil, fmt.Errorf("memory: unsupported operation %q", query)
}

// Begin implements BackendConn
func (c *memoryConn) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		return fmt.Errorf("memory: transaction already started")
	}
	c.inTx = true
	c.staged = make(map[string]any)
	c.deleted = make(map[string]bool)
	return nil
}

// Commit implements BackendConn
func (c *memoryConn) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return ErrNoActiveTransaction
	}

	c.adapter.mu.Lock()
	for k, v := range c.staged {
		c.adapter.data[k] = v
	}
	for k := range c.deleted {
		delete(c.adapter.data, k)
	}
	c.adapter.mu.Unlock()

	c.inTx = false
	c.staged = nil
	c.deleted = nil
	return nil
}

// Rollback implements BackendConn
func (c *memoryConn) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return ErrNoActiveTransaction
	}
	c.inTx = false
	c.staged = nil
	c.deleted = nil
	return nil
}

// Close implements BackendConn
func (c *memoryConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	atomic.AddInt64(&c.adapter.closes, 1)
	return nil
}

func stringParam(params []any, i int) (string, error) {
	if len(params) <= i {
		return "", fmt.Errorf("memory: missing parameter %d", i)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("memory: parameter %d must be a string", i)
	}
	return s, nil
}
