package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
)

type storeFactory func(t *testing.T) RefreshStore

func refreshStores() map[string]storeFactory {
	return map[string]storeFactory{
		"gorm": func(t *testing.T) RefreshStore {
			return NewGormRefreshStore(newSQLiteForTest(t))
		},
		"redis": func(t *testing.T) RefreshStore {
			_, client := newRedisClientForTest(t)
			return NewRedisRefreshStore(client, "test", 24*time.Hour)
		},
	}
}

func seedToken(t *testing.T, store RefreshStore, hash, subject string, expiresAt time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &domain.RefreshToken{
		TokenHash: hash,
		SubjectID: subject,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("create %s: %v", hash, err)
	}
}

func TestRefreshStoreRotate(t *testing.T) {
	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Now().UTC()
			seedToken(t, store, "old", "user-1", now.Add(time.Hour))

			next := &domain.RefreshToken{TokenHash: "new", ExpiresAt: now.Add(2 * time.Hour)}
			prev, err := store.Rotate(ctx, "old", now, next)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if prev.SubjectID != "user-1" || !prev.Revoked {
				t.Fatalf("unexpected predecessor: %+v", prev)
			}
			if next.SubjectID != "user-1" {
				t.Fatalf("successor subject not inherited: %q", next.SubjectID)
			}

			old, err := store.FindByHash(ctx, "old")
			if err != nil {
				t.Fatalf("find old: %v", err)
			}
			if !old.Revoked || old.RevokedReason == nil || *old.RevokedReason != domain.RevokeReasonRotated {
				t.Fatalf("old record not revoked as rotated: %+v", old)
			}
			fresh, err := store.FindByHash(ctx, "new")
			if err != nil {
				t.Fatalf("find new: %v", err)
			}
			if fresh.Revoked || fresh.SubjectID != "user-1" {
				t.Fatalf("unexpected successor: %+v", fresh)
			}

			_, err = store.Rotate(ctx, "old", now, &domain.RefreshToken{TokenHash: "again", ExpiresAt: now.Add(time.Hour)})
			if !errors.Is(err, ErrRefreshTokenRevoked) {
				t.Fatalf("expected revoked on replay, got %v", err)
			}
			if _, err := store.FindByHash(ctx, "again"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("replay must not persist a successor, got %v", err)
			}
		})
	}
}

func TestRefreshStoreRotateRejectsUnknownAndExpired(t *testing.T) {
	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Now().UTC()
			seedToken(t, store, "stale", "user-1", now.Add(-time.Minute))

			_, err := store.Rotate(ctx, "missing", now, &domain.RefreshToken{TokenHash: "n1", ExpiresAt: now.Add(time.Hour)})
			if !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			_, err = store.Rotate(ctx, "stale", now, &domain.RefreshToken{TokenHash: "n2", ExpiresAt: now.Add(time.Hour)})
			if !errors.Is(err, ErrRefreshTokenExpired) {
				t.Fatalf("expected expired, got %v", err)
			}
		})
	}
}

func TestRefreshStoreConcurrentRotateHasSingleWinner(t *testing.T) {
	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Now().UTC()
			seedToken(t, store, "contended", "user-1", now.Add(time.Hour))

			const workers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				wins    int
				revoked int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					next := &domain.RefreshToken{TokenHash: fmt.Sprintf("next-%d", i), ExpiresAt: now.Add(time.Hour)}
					_, err := store.Rotate(ctx, "contended", now, next)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, ErrRefreshTokenRevoked):
						revoked++
					default:
						t.Errorf("unexpected rotate error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			if wins != 1 || revoked != workers-1 {
				t.Fatalf("expected 1 win and %d revoked, got wins=%d revoked=%d", workers-1, wins, revoked)
			}
		})
	}
}

func TestRefreshStoreRevokeIsIdempotent(t *testing.T) {
	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Now().UTC()
			seedToken(t, store, "h1", "user-1", now.Add(time.Hour))

			changed, err := store.Revoke(ctx, "h1", domain.RevokeReasonLogout, now)
			if err != nil || !changed {
				t.Fatalf("first revoke: changed=%v err=%v", changed, err)
			}
			changed, err = store.Revoke(ctx, "h1", domain.RevokeReasonLogout, now)
			if err != nil || changed {
				t.Fatalf("second revoke: changed=%v err=%v", changed, err)
			}
			changed, err = store.Revoke(ctx, "unknown", domain.RevokeReasonLogout, now)
			if err != nil || changed {
				t.Fatalf("unknown revoke: changed=%v err=%v", changed, err)
			}

			_, err = store.Rotate(ctx, "h1", now, &domain.RefreshToken{TokenHash: "h2", ExpiresAt: now.Add(time.Hour)})
			if !errors.Is(err, ErrRefreshTokenRevoked) {
				t.Fatalf("rotate after logout: expected revoked, got %v", err)
			}
		})
	}
}

func TestGormRefreshStoreCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := NewGormRefreshStore(newSQLiteForTest(t))
	now := time.Now().UTC()
	seedToken(t, store, "long-gone", "user-1", now.Add(-48*time.Hour))
	seedToken(t, store, "recent", "user-1", now.Add(-time.Hour))
	seedToken(t, store, "live", "user-1", now.Add(time.Hour))

	deleted, err := store.CleanupExpired(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := store.FindByHash(ctx, "long-gone"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected purged record, got %v", err)
	}
	if _, err := store.FindByHash(ctx, "recent"); err != nil {
		t.Fatalf("record inside retention window should remain: %v", err)
	}
}

func TestRedisRefreshStoreKeyExpiresAfterRetention(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	store := NewRedisRefreshStore(client, "test", time.Hour)
	now := time.Now().UTC()
	seedToken(t, store, "h1", "user-1", now.Add(time.Minute))

	ttl := server.TTL("test:rt:h1")
	if ttl <= time.Minute || ttl > time.Hour+time.Minute {
		t.Fatalf("unexpected key ttl %v", ttl)
	}

	server.FastForward(2 * time.Minute)
	rec, err := store.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("record should survive inside retention: %v", err)
	}
	if !rec.Expired(now.Add(2 * time.Minute)) {
		t.Fatalf("record should report expired: %+v", rec)
	}

	server.FastForward(2 * time.Hour)
	if _, err := store.FindByHash(ctx, "h1"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected purged record, got %v", err)
	}
}

func TestRedisRefreshStoreRotateRejectsPartialRecord(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	store := NewRedisRefreshStore(client, "test", time.Hour)
	server.HSet("test:rt:partial", "subject_id", "user-1", "revoked", "0")

	now := time.Now().UTC()
	_, err := store.Rotate(ctx, "partial", now, &domain.RefreshToken{TokenHash: "n1", ExpiresAt: now.Add(time.Hour)})
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected not found for record without expiry, got %v", err)
	}
	if server.Exists("test:rt:n1") {
		t.Fatal("successor must not be written for a partial record")
	}
}
