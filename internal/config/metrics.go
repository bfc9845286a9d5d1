package config

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordLoad counts one Load call. cfg may be partially populated on failure.
func recordLoad(ctx context.Context, cfg *Config, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("session-auth-core/config").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration loads by outcome and failure class"),
		)
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	env, store := "unknown", "unknown"
	if cfg != nil {
		if cfg.Env != "" {
			env = cfg.Env
		}
		if cfg.RefreshStore != "" {
			store = cfg.RefreshStore
		}
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", env),
		attribute.String("refresh_store", store),
		attribute.String("outcome", outcome),
		attribute.String("error_class", loadErrorClass(err)),
	))
}

func loadErrorClass(err error) string {
	var pe *ParseError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &pe):
		return "parse"
	case errors.Is(err, ErrInvalid):
		return "validation"
	default:
		return "load"
	}
}
