package poolx

import (
	"context"
	"fmt"
	"time"

	"github.com/seasbee/go-logx"
	"go.opentelemetry.io/otel/attribute"
)

// QueryOptions controls a single ExecuteQuery call
type QueryOptions struct {
	// Timeout overrides the pool's acquire window for this call
	Timeout time.Duration
	// Retries is the number of additional attempts after the first failure
	Retries int
}

// ExecuteQuery borrows a connection, executes the backend call, and always
// releases the connection, even on error. Failed executions are retried
// with exponential backoff; each attempt borrows its own connection so a
// poisoned connection is never re-used across attempts. Acquisition errors
// surface immediately.
func (p *Pool) ExecuteQuery(ctx context.Context, query string, params []any, opts *QueryOptions) (any, error) {
	timeout := p.config.AcquireTimeout
	retries := 0
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Retries > 0 {
			retries = opts.Retries
		}
	}

	ctx, span := tracer.Start(ctx, "poolx.execute_query")
	defer span.End()

	backoff := DefaultBackoffPolicy()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := backoff.wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		conn, err := p.acquire(ctx, timeout)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		result, err := conn.Execute(ctx, query, params...)
		if relErr := p.Release(conn); relErr != nil {
			logx.Warn("Failed to release connection after query",
				logx.String("connID", conn.ID()),
				logx.ErrorField(relErr))
		}

		if err == nil {
			span.SetAttributes(attribute.Int("poolx.attempts", attempt+1))
			return result, nil
		}

		lastErr = err
		p.metrics.recordError()
		logx.Warn("Query attempt failed",
			logx.String("backend", p.adapter.Name()),
			logx.Int("attempt", attempt+1),
			logx.Int("maxAttempts", retries+1),
			logx.ErrorField(err))
	}

	qerr := &QueryError{Query: query, Attempts: retries + 1, Err: lastErr}
	span.RecordError(qerr)
	p.emit(EventQueryError, "", qerr, map[string]any{"attempts": retries + 1})
	return nil, qerr
}

// TxFunc runs inside a transaction on the borrowed connection
type TxFunc func(ctx context.Context, conn *PooledConnection) error

// WithTransaction borrows one connection, begins a transaction on it,
// invokes fn, and commits on success. On error from fn or the commit it
// attempts a rollback; a rollback failure is emitted as its own event but
// never masks the original error. The connection is released regardless of
// outcome.
func (p *Pool) WithTransaction(ctx context.Context, fn TxFunc) error {
	ctx, span := tracer.Start(ctx, "poolx.with_transaction")
	defer span.End()

	conn, err := p.Get(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		if relErr := p.Release(conn); relErr != nil {
			logx.Warn("Failed to release transaction connection",
				logx.String("connID", conn.ID()),
				logx.ErrorField(relErr))
		}
	}()

	if err := conn.Begin(ctx); err != nil {
		terr := &TransactionError{Err: fmt.Errorf("begin failed: %w", err)}
		span.RecordError(terr)
		return terr
	}

	txErr := p.runTxFunc(ctx, conn, fn)
	if txErr == nil {
		commitErr := conn.Commit(ctx)
		if commitErr == nil {
			return nil
		}
		txErr = fmt.Errorf("commit failed: %w", commitErr)
	}

	var rollbackErr error
	if rollbackErr = conn.Rollback(ctx); rollbackErr != nil {
		p.metrics.recordError()
		p.emit(EventRollbackError, conn.ID(), rollbackErr, nil)
		logx.Error("Transaction rollback failed",
			logx.String("connID", conn.ID()),
			logx.ErrorField(rollbackErr))
	}

	terr := &TransactionError{Err: txErr, RollbackErr: rollbackErr}
	span.RecordError(terr)
	return terr
}

// runTxFunc invokes fn, rolling the transaction back before re-panicking
// so a panicking callback never returns a connection with an open
// transaction
func (p *Pool) runTxFunc(ctx context.Context, conn *PooledConnection, fn TxFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rbErr := conn.Rollback(ctx); rbErr != nil {
				p.emit(EventRollbackError, conn.ID(), rbErr, nil)
			}
			panic(r)
		}
	}()
	return fn(ctx, conn)
}
