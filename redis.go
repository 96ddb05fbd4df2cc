package poolx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter opens dedicated Redis connections for the pool. The driver's
// own pooling is disabled (one physical connection per client) so the pool
// remains the single owner of connection lifecycle.
type RedisAdapter struct {
	options *redis.Options
}

// NewRedisAdapter creates a Redis backend adapter from client options
func NewRedisAdapter(options *redis.Options) *RedisAdapter {
	if options == nil {
		options = &redis.Options{Addr: "localhost:6379"}
	}
	return &RedisAdapter{options: options}
}

// Name implements BackendAdapter
func (a *RedisAdapter) Name() string {
	return "redis"
}

// Connect implements BackendAdapter
func (a *RedisAdapter) Connect(ctx context.Context) (BackendConn, error) {
	opts := *a.options
	opts.PoolSize = 1
	opts.MinIdleConns = 0

	client := redis.NewClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &redisConn{client: client}, nil
}

// redisConn adapts a single-connection Redis client to BackendConn.
// Transactions map to MULTI/EXEC pipelines: Execute queues commands into
// the pipeline after Begin, Commit runs EXEC, Rollback discards.
type redisConn struct {
	client *redis.Client
	pipe   redis.Pipeliner
}

// Ping implements BackendConn
func (c *redisConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Execute implements BackendConn. The query is the Redis command name and
// params are its arguments.
func (c *redisConn) Execute(ctx context.Context, query string, params ...any) (any, error) {
	args := make([]any, 0, len(params)+1)
	args = append(args, query)
	args = append(args, params...)

	if c.pipe != nil {
		// Queued for EXEC; the result materializes on commit
		c.pipe.Do(ctx, args...)
		return nil, nil
	}

	result, err := c.client.Do(ctx, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

// Begin implements BackendConn
func (c *redisConn) Begin(ctx context.Context) error {
	if c.pipe != nil {
		return fmt.Errorf("redis: transaction already started")
	}
	c.pipe = c.client.TxPipeline()
	return nil
}

// Commit implements BackendConn
func (c *redisConn) Commit(ctx context.Context) error {
	if c.pipe == nil {
		return ErrNoActiveTransaction
	}
	_, err := c.pipe.Exec(ctx)
	c.pipe = nil
	return err
}

// Rollback implements BackendConn
func (c *redisConn) Rollback(ctx context.Context) error {
	if c.pipe == nil {
		return ErrNoActiveTransaction
	}
	c.pipe.Discard()
	c.pipe = nil
	return nil
}

// Close implements BackendConn
func (c *redisConn) Close(ctx context.Context) error {
	return c.client.Close()
}
