package poolx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresAdapter opens pgx connections for the pool. pgx's built-in
// pooling (pgxpool) is deliberately not used; the pool owns lifecycle.
type PostgresAdapter struct {
	connString string
}

// NewPostgresAdapter creates a relational backend adapter from a
// PostgreSQL connection string
func NewPostgresAdapter(connString string) *PostgresAdapter {
	return &PostgresAdapter{connString: connString}
}

// Name implements BackendAdapter
func (a *PostgresAdapter) Name() string {
	return "postgres"
}

// Connect implements BackendAdapter
func (a *PostgresAdapter) Connect(ctx context.Context) (BackendConn, error) {
	conn, err := pgx.Connect(ctx, a.connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return &postgresConn{conn: conn}, nil
}

// postgresConn adapts a single pgx connection to BackendConn. While a
// transaction is open, Execute routes statements through it.
type postgresConn struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

// Ping implements BackendConn
func (c *postgresConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Execute implements BackendConn. Rows are materialized as a slice of
// value slices; statements without a result set return an empty slice.
func (c *postgresConn) Execute(ctx context.Context, query string, params ...any) (any, error) {
	var rows pgx.Rows
	var err error
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, query, params...)
	} else {
		rows, err = c.conn.Query(ctx, query, params...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		results = append(results, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Begin implements BackendConn
func (c *postgresConn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("postgres: transaction already started")
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit implements BackendConn
func (c *postgresConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoActiveTransaction
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return err
}

// Rollback implements BackendConn
func (c *postgresConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoActiveTransaction
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	return err
}

// Close implements BackendConn
func (c *postgresConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
