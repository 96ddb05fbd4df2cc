package poolx

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracer is the OpenTelemetry tracer for pool operations
var tracer = otel.Tracer("github.com/seasbee/go-poolx")

// Metrics holds all Prometheus metrics for a pool
type Metrics struct {
	// Lifecycle counters
	ConnectionsCreated   prometheus.Counter
	ConnectionsDestroyed prometheus.Counter
	ValidationErrors     prometheus.Counter
	QueryErrors          prometheus.Counter
	RollbackErrors       prometheus.Counter
	MaintenancePasses    prometheus.Counter

	// Pool state gauges
	TotalConnections  prometheus.Gauge
	ActiveConnections prometheus.Gauge
	IdleConnections   prometheus.Gauge
	WaitingClients    prometheus.Gauge

	// Timing metrics
	AverageWaitSeconds prometheus.Gauge
	AverageUseSeconds  prometheus.Gauge
}

// NewMetrics creates the pool's Prometheus metrics on the given registerer.
// A nil registerer uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_connections_created_total",
				Help: "Total number of backend connections created",
			},
		),
		ConnectionsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_connections_destroyed_total",
				Help: "Total number of backend connections destroyed",
			},
		),
		ValidationErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_validation_errors_total",
				Help: "Total number of failed liveness probes",
			},
		),
		QueryErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_query_errors_total",
				Help: "Total number of queries that failed after all retries",
			},
		),
		RollbackErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_rollback_errors_total",
				Help: "Total number of failed transaction rollbacks",
			},
		),
		MaintenancePasses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poolx_maintenance_passes_total",
				Help: "Total number of completed maintenance passes",
			},
		),
		TotalConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_connections_total",
				Help: "Connections currently tracked by the pool",
			},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_connections_active",
				Help: "Connections currently lent to borrowers",
			},
		),
		IdleConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_connections_idle",
				Help: "Connections currently idle in the pool",
			},
		),
		WaitingClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_waiting_clients",
				Help: "Acquisition requests parked in the waiting queue",
			},
		),
		AverageWaitSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_average_wait_seconds",
				Help: "Rolling average time callers wait to acquire a connection",
			},
		),
		AverageUseSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolx_average_use_seconds",
				Help: "Rolling average time connections spend borrowed",
			},
		),
	}
}

// ObservabilitySink mirrors pool lifecycle events into Prometheus metrics
type ObservabilitySink struct {
	metrics *Metrics
}

// NewObservabilitySink creates an event sink backed by the given metrics
func NewObservabilitySink(metrics *Metrics) *ObservabilitySink {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ObservabilitySink{metrics: metrics}
}

// Publish implements EventSink
func (s *ObservabilitySink) Publish(event PoolEvent) {
	switch event.Type {
	case EventConnectionCreated:
		s.metrics.ConnectionsCreated.Inc()
	case EventConnectionDestroyed:
		s.metrics.ConnectionsDestroyed.Inc()
	case EventValidationError:
		s.metrics.ValidationErrors.Inc()
	case EventQueryError:
		s.metrics.QueryErrors.Inc()
	case EventRollbackError:
		s.metrics.RollbackErrors.Inc()
	case EventMaintenanceCompleted:
		s.metrics.MaintenancePasses.Inc()
	case EventMetricsUpdated:
		if event.Details == nil {
			return
		}
		snapshot, ok := event.Details["snapshot"].(*MetricsSnapshot)
		if !ok {
			return
		}
		s.metrics.TotalConnections.Set(float64(snapshot.TotalConnections))
		s.metrics.ActiveConnections.Set(float64(snapshot.ActiveConnections))
		s.metrics.IdleConnections.Set(float64(snapshot.IdleConnections))
		s.metrics.WaitingClients.Set(float64(snapshot.WaitingClients))
		s.metrics.AverageWaitSeconds.Set(snapshot.AverageWaitTime.Seconds())
		s.metrics.AverageUseSeconds.Set(snapshot.AverageUseTime.Seconds())
	}
}

// NewStdoutTracerProvider configures a stdout trace exporter and installs
// it as the global tracer provider. Intended for local development; the
// returned provider should be shut down by the caller.
func NewStdoutTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// ShutdownTracerProvider flushes and stops the given provider
func ShutdownTracerProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
