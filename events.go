package poolx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seasbee/go-logx"
	"github.com/vmihailenco/msgpack/v5"
)

// EventType identifies a pool lifecycle notification
type EventType string

// Pool lifecycle event types
const (
	EventPoolInitialized      EventType = "pool_initialized"
	EventConnectionCreated    EventType = "connection_created"
	EventConnectionDestroyed  EventType = "connection_destroyed"
	EventValidationError      EventType = "validation_error"
	EventMaintenanceCompleted EventType = "maintenance_completed"
	EventMetricsUpdated       EventType = "metrics_updated"
	EventQueryError           EventType = "query_error"
	EventRollbackError        EventType = "rollback_error"
	EventPoolShutdown         EventType = "pool_shutdown"
)

// PoolEvent is a fire-and-forget lifecycle notification delivered to the
// configured sinks
type PoolEvent struct {
	Type      EventType      `json:"type" msgpack:"type"`
	Backend   string         `json:"backend" msgpack:"backend"`
	ConnID    string         `json:"conn_id,omitempty" msgpack:"conn_id,omitempty"`
	Timestamp time.Time      `json:"timestamp" msgpack:"timestamp"`
	Error     string         `json:"error,omitempty" msgpack:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty" msgpack:"details,omitempty"`
}

// EventSink consumes pool lifecycle notifications. Publish must not block
// the caller; slow consumers are expected to buffer or drop.
type EventSink interface {
	Publish(event PoolEvent)
}

// LogSink writes events to the structured log
type LogSink struct{}

// NewLogSink creates a sink that logs every pool event
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Publish implements EventSink
func (s *LogSink) Publish(event PoolEvent) {
	fields := []logx.Field{
		logx.String("event", string(event.Type)),
		logx.String("backend", event.Backend),
	}
	if event.ConnID != "" {
		fields = append(fields, logx.String("connID", event.ConnID))
	}
	if event.Details != nil {
		fields = append(fields, logx.Any("details", event.Details))
	}

	if event.Error != "" {
		fields = append(fields, logx.String("error", event.Error))
		logx.Warn("Pool event", fields...)
		return
	}
	logx.Debug("Pool event", fields...)
}

// MultiSink fans events out to several sinks
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink that forwards every event to each given sink
func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish implements EventSink
func (s *MultiSink) Publish(event PoolEvent) {
	for _, sink := range s.sinks {
		sink.Publish(event)
	}
}

// RedisEventSink publishes msgpack-encoded pool events to a Redis pub/sub
// channel for an external observability consumer
type RedisEventSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisEventSink creates a Redis pub/sub event sink. Events are encoded
// with MessagePack and published on the given channel.
func NewRedisEventSink(client *redis.Client, channel string) *RedisEventSink {
	if channel == "" {
		channel = "poolx:events"
	}
	return &RedisEventSink{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
	}
}

// Publish implements EventSink. Delivery is fire-and-forget: failures are
// logged and never surfaced to pool operations.
func (s *RedisEventSink) Publish(event PoolEvent) {
	data, err := msgpack.Marshal(event)
	if err != nil {
		logx.Error("Failed to encode pool event",
			logx.String("event", string(event.Type)),
			logx.ErrorField(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
			logx.Error("Failed to publish pool event",
				logx.String("event", string(event.Type)),
				logx.String("channel", s.channel),
				logx.ErrorField(err))
		}
	}()
}

// nopSink swallows events when no sink is configured
type nopSink struct{}

func (nopSink) Publish(PoolEvent) {}
