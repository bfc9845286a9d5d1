package observability

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		t.Fatalf("newAppMetrics: %v", err)
	}
	metricsMu.Lock()
	prev := appMetrics
	appMetrics = m
	metricsMu.Unlock()
	t.Cleanup(func() {
		metricsMu.Lock()
		appMetrics = prev
		metricsMu.Unlock()
		_ = mp.Shutdown(context.Background())
	})
	return reader
}

func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string, match attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s has unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(match.Key); ok && v.AsString() == match.Value.AsString() {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRecordAccessTokenValidationCountsByOutcome(t *testing.T) {
	reader := installManualReader(t)
	ctx := context.Background()

	RecordAccessTokenValidation(ctx, "expired", "http")
	RecordAccessTokenValidation(ctx, "expired", "ws")
	RecordAccessTokenValidation(ctx, "invalid", "http")

	if got := counterSum(t, reader, "auth.access_token.validations", attribute.String("outcome", "expired")); got != 2 {
		t.Fatalf("expected 2 expired validations, got %d", got)
	}
	if got := counterSum(t, reader, "auth.access_token.validations", attribute.String("outcome", "invalid")); got != 1 {
		t.Fatalf("expected 1 invalid validation, got %d", got)
	}
}

func TestRecordRefreshTokenCleanupSkipsZero(t *testing.T) {
	reader := installManualReader(t)
	ctx := context.Background()

	RecordRefreshTokenCleanup(ctx, 0)
	RecordRefreshTokenCleanup(ctx, 3)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "refresh_token.cleanup.deleted" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
				t.Fatalf("unexpected cleanup datapoints: %+v", sum.DataPoints)
			}
			return
		}
	}
	t.Fatal("cleanup counter not exported")
}

func TestRecordersAreNoopWithoutInit(t *testing.T) {
	metricsMu.Lock()
	prev := appMetrics
	appMetrics = nil
	metricsMu.Unlock()
	t.Cleanup(func() {
		metricsMu.Lock()
		appMetrics = prev
		metricsMu.Unlock()
	})

	ctx := context.Background()
	RecordAuthLogin(ctx, "success")
	RecordAuthRefresh(ctx, "rotated")
	RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	RecordRealtimeAuthError(ctx, "AUTH_EXPIRED")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
