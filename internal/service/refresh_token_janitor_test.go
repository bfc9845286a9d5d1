package service

import (
	"context"
	"testing"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
)

func TestRefreshTokenJanitorRunOnceHonorsRetention(t *testing.T) {
	ctx := context.Background()
	store := newInMemoryRefreshStore()
	now := time.Now().UTC()
	for hash, exp := range map[string]time.Time{
		"ancient": now.Add(-72 * time.Hour),
		"recent":  now.Add(-time.Hour),
		"live":    now.Add(time.Hour),
	} {
		_ = store.Create(ctx, &domain.RefreshToken{TokenHash: hash, SubjectID: "u", ExpiresAt: exp})
	}

	janitor := NewRefreshTokenJanitor(store, 24*time.Hour, time.Minute, nil)
	janitor.now = func() time.Time { return now }

	deleted, err := janitor.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, ok := store.byHash["recent"]; !ok {
		t.Fatal("record inside retention window was purged")
	}
}

func TestRefreshTokenJanitorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	janitor := NewRefreshTokenJanitor(newInMemoryRefreshStore(), time.Hour, 10*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- janitor.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
