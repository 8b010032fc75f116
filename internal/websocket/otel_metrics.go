package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sankeyhub.websocket"

// OTelMetrics exposes hub activity to the OpenTelemetry pipeline.
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	broadcastsTotal    metric.Int64Counter
	droppedClients     metric.Int64Counter
	clientCount        metric.Int64Gauge
}

// NewOTelMetrics creates the hub's instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	broadcastsTotal, err := meter.Int64Counter(
		"websocket_broadcasts_total",
		metric.WithDescription("Total number of hub broadcast operations"),
	)
	if err != nil {
		return nil, err
	}

	droppedClients, err := meter.Int64Counter(
		"websocket_dropped_clients_total",
		metric.WithDescription("Clients evicted because their send buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	clientCount, err := meter.Int64Gauge(
		"websocket_client_count",
		metric.WithDescription("Current number of connected clients"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		broadcastsTotal:    broadcastsTotal,
		droppedClients:     droppedClients,
		clientCount:        clientCount,
	}, nil
}

// RecordConnection records a new client connection.
func (m *OTelMetrics) RecordConnection(ctx context.Context, remoteAddr string) {
	attrs := metric.WithAttributes(attribute.String("remote_addr", remoteAddr))
	m.connectionsTotal.Add(ctx, 1, attrs)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records a client going away.
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordBroadcast records one fan-out and its per-client outcome.
func (m *OTelMetrics) RecordBroadcast(ctx context.Context, clients, delivered, dropped int64) {
	m.broadcastsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("clients", clients),
		attribute.Int64("delivered", delivered),
	))
	if dropped > 0 {
		m.droppedClients.Add(ctx, dropped)
	}
}

// RecordClientCount records the current client population.
func (m *OTelMetrics) RecordClientCount(ctx context.Context, count int64) {
	m.clientCount.Record(ctx, count)
}

var globalOTelMetrics *OTelMetrics

// InitOTelMetrics initializes the package-level metrics instance. The hub
// works without it; every call site nil-checks GetOTelMetrics.
func InitOTelMetrics() error {
	metrics, err := NewOTelMetrics()
	if err != nil {
		return err
	}
	globalOTelMetrics = metrics
	return nil
}

// GetOTelMetrics returns the package-level metrics instance, or nil when
// InitOTelMetrics has not run.
func GetOTelMetrics() *OTelMetrics {
	return globalOTelMetrics
}
