package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/config"
	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/health"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

type countingStore struct{ cleanups atomic.Int32 }

func (s *countingStore) Create(context.Context, *domain.RefreshToken) error { return nil }
func (s *countingStore) FindByHash(context.Context, string) (*domain.RefreshToken, error) {
	return nil, nil
}
func (s *countingStore) Rotate(context.Context, string, time.Time, *domain.RefreshToken) (*domain.RefreshToken, error) {
	return nil, nil
}
func (s *countingStore) Revoke(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (s *countingStore) CleanupExpired(context.Context, time.Time) (int64, error) {
	s.cleanups.Add(1)
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ShutdownTimeout:              10 * time.Second,
		ShutdownHTTPDrainTimeout:     2 * time.Second,
		ShutdownObservabilityTimeout: 3 * time.Second,
	}
}

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(100 * time.Millisecond)

	a := New(cfg, logger, server, nil, nil, readiness)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout || a.ShutdownHTTPDrainTimeout != cfg.ShutdownHTTPDrainTimeout || a.ShutdownObservabilityTimeout != cfg.ShutdownObservabilityTimeout {
		t.Fatal("expected app shutdown timeouts copied from config")
	}
	a.StopBackgroundTasks()
}

func TestRunServesAndShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	server := &http.Server{Addr: "127.0.0.1:0", Handler: mux, ReadHeaderTimeout: time.Second}

	store := &countingStore{}
	janitor := service.NewRefreshTokenJanitor(store, time.Hour, time.Hour, logger)
	a := New(testConfig(), logger, server, nil, janitor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.cleanups.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.cleanups.Load() == 0 {
		t.Fatal("expected janitor to sweep on start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: "256.0.0.1:bad", ReadHeaderTimeout: time.Second}
	a := New(testConfig(), logger, server, nil, nil, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after listen failure")
	}
}
