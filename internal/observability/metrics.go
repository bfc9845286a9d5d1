package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sandeepkv93/session-auth-core/internal/config"
)

const meterName = "session-auth-core"

type AppMetrics struct {
	authLoginCounter        metric.Int64Counter
	authRefreshCounter      metric.Int64Counter
	authLogoutCounter       metric.Int64Counter
	accessValidationCounter metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	realtimeConnCounter     metric.Int64Counter
	realtimeAuthErrCounter  metric.Int64Counter
	cleanupDeletedCounter   metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	var mp *sdkmetric.MeterProvider
	if !cfg.OTELMetricsEnabled {
		mp = sdkmetric.NewMeterProvider()
		logger.Info("otel metrics disabled")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create metric resource: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	}
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"auth.access_token.validations", &m.accessValidationCounter},
		{"repository.operations", &m.repositoryOpCounter},
		{"realtime.connections", &m.realtimeConnCounter},
		{"realtime.auth_errors", &m.realtimeAuthErrCounter},
		{"refresh_token.cleanup.deleted", &m.cleanupDeletedCounter},
		{"rate_limit.decisions", &m.rateLimitCounter},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRefresh(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.accessValidationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	if m := current(); m != nil {
		m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repository),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRealtimeConnection(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.realtimeConnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordRealtimeAuthError(ctx context.Context, code string) {
	if m := current(); m != nil {
		m.realtimeAuthErrCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

func RecordRefreshTokenCleanup(ctx context.Context, deleted int64) {
	if m := current(); m != nil && deleted > 0 {
		m.cleanupDeletedCounter.Add(ctx, deleted)
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	if m := current(); m != nil {
		m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
		))
	}
}
