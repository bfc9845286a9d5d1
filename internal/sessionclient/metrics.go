package sessionclient

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	clientMetricsOnce sync.Once
	clientRefreshes   metric.Int64Counter
	clientReconnects  metric.Int64Counter
)

func initClientMetrics() {
	meter := otel.Meter("session-auth-core/sessionclient")
	var err error
	clientRefreshes, err = meter.Int64Counter("session_client.refresh.events", metric.WithDescription("Client refresh lifecycle events by outcome"))
	if err != nil {
		clientRefreshes = nil
	}
	clientReconnects, err = meter.Int64Counter("session_client.conn.reconnects", metric.WithDescription("Persistent connection reconnects by reason"))
	if err != nil {
		clientReconnects = nil
	}
}

func recordClientRefresh(ctx context.Context, outcome string) {
	clientMetricsOnce.Do(initClientMetrics)
	if clientRefreshes == nil {
		return
	}
	clientRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordReconnect(ctx context.Context, reason string) {
	clientMetricsOnce.Do(initClientMetrics)
	if clientReconnects == nil {
		return
	}
	clientReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
