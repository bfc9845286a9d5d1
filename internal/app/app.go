package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/session-auth-core/internal/config"
	"github.com/sandeepkv93/session-auth-core/internal/health"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Janitor       *service.RefreshTokenJanitor
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	mu             sync.Mutex
	stopBackground context.CancelFunc
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, janitor *service.RefreshTokenJanitor, readiness *health.ProbeRunner) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Janitor:                      janitor,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
	}
}

// Run serves HTTP and runs background workers until ctx is cancelled or the
// listener fails, then shuts everything down in order: HTTP drain,
// background tasks (including open websocket connections), telemetry.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.stopBackground = cancel
	a.mu.Unlock()
	defer cancel()
	a.Server.BaseContext = func(net.Listener) context.Context { return bgCtx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Janitor != nil {
		g.Go(func() error { return a.Janitor.Run(bgCtx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) StopBackgroundTasks() {
	a.mu.Lock()
	stop := a.stopBackground
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (a *App) shutdown() error {
	a.Logger.Info("shutdown started")
	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()

	var errs []error
	drainCtx, drainCancel := context.WithTimeout(ctx, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http drain: %w", err))
	}
	drainCancel()

	a.StopBackgroundTasks()

	obsCtx, obsCancel := context.WithTimeout(ctx, a.ShutdownObservabilityTimeout)
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	obsCancel()

	a.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}
