package poolx

import "context"

// BackendAdapter opens physical connections for one store type. An adapter
// is chosen once at pool construction; the pool never branches on store
// type after that.
type BackendAdapter interface {
	// Name returns a short backend identifier (e.g. "redis", "postgres").
	Name() string

	// Connect opens a new physical connection. The pool bounds the call
	// with PoolConfig.CreateTimeout.
	Connect(ctx context.Context) (BackendConn, error)
}

// BackendConn is a single physical connection owned by the pool while idle
// and lent to exactly one borrower while in use. Transactions are scoped to
// the handle: after Begin, Execute runs inside the transaction until Commit
// or Rollback.
type BackendConn interface {
	// Ping performs a cheap liveness probe bounded by the caller's context.
	Ping(ctx context.Context) error

	// Execute runs a backend-specific operation and returns its result.
	Execute(ctx context.Context, query string, params ...any) (any, error)

	// Begin starts a transaction on this connection.
	Begin(ctx context.Context) error

	// Commit commits the active transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the active transaction.
	Rollback(ctx context.Context) error

	// Close tears the physical connection down.
	Close(ctx context.Context) error
}
