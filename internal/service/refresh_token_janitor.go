package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/repository"
)

// RefreshTokenJanitor deletes refresh token records whose expiry is older than the retention window.
type RefreshTokenJanitor struct {
	store     repository.RefreshStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewRefreshTokenJanitor(store repository.RefreshStore, retention, interval time.Duration, logger *slog.Logger) *RefreshTokenJanitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTokenJanitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *RefreshTokenJanitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.store.CleanupExpired(ctx, cutoff)
	if err != nil {
		return deleted, err
	}
	observability.RecordRefreshTokenCleanup(ctx, deleted)
	if deleted > 0 {
		j.logger.Info("expired refresh tokens purged", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (j *RefreshTokenJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("refresh token cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
