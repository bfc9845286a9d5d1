package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/security"
)

func TestAuthGatewayClassification(t *testing.T) {
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	mgr := security.NewJWTManager("session-auth-core", "session-auth-core-clients", testSecret).WithClock(clock.Now)
	gw := NewAuthGateway(mgr)
	ctx := context.Background()

	token, _, err := mgr.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := gw.VerifyAccessRequest(ctx, token)
	if err != nil || claims.Subject != "user-1" {
		t.Fatalf("valid token: claims=%+v err=%v", claims, err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := gw.VerifyAccessRequest(ctx, token); !errors.Is(err, ErrAccessExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	other := security.NewJWTManager("session-auth-core", "session-auth-core-clients", "zyxwvutsrqponmlkjihgfedcba654321").WithClock(clock.Now)
	forged, _, err := other.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	_, err = gw.VerifyAccessRequest(ctx, forged)
	if !errors.Is(err, ErrAccessInvalid) || errors.Is(err, ErrAccessExpired) {
		t.Fatalf("expected invalid, got %v", err)
	}

	_, err = gw.VerifyAccessRequest(ctx, "  ")
	if !errors.Is(err, ErrAccessInvalid) || AccessOutcome(err) != "missing" {
		t.Fatalf("expected missing invalid, got %v (%s)", err, AccessOutcome(err))
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q)=%q want %q", in, got, want)
		}
	}
}
