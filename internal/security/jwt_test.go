package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestManager(clock *fakeClock) *JWTManager {
	return NewJWTManager("iss", "aud", testSecret).WithClock(clock.Now)
}

func TestParseAccessTokenValid(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)

	raw, exp, err := m.SignAccessToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !exp.Equal(clock.t.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := m.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessTokenExpiredIsDistinguished(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)

	raw, _, err := m.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	clock.t = clock.t.Add(2 * time.Minute)

	claims, err := m.ParseAccessToken(raw)
	if !errors.Is(err, ErrAccessTokenExpired) {
		t.Fatalf("expected ErrAccessTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatal("expired token must not be classified invalid")
	}
	if claims == nil || claims.Subject != "user-1" {
		t.Fatalf("expected claims alongside expiry, got %+v", claims)
	}
}

func TestParseAccessTokenInvalidCases(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)
	other := NewJWTManager("iss", "aud", "zyxwvutsrqponmlkjihgfedcba654321").WithClock(clock.Now)
	wrongAudience := NewJWTManager("iss", "other-aud", testSecret).WithClock(clock.Now)

	good, _, err := m.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged, _, err := other.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	foreignAud, _, err := wrongAudience.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign foreign audience: %v", err)
	}
	refreshTyped, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iss",
			Subject:   "user-1",
			Audience:  []string{"aud"},
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(clock.t),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign refresh typed: %v", err)
	}
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	cases := map[string]string{
		"garbage":        "not-a-jwt",
		"empty":          "",
		"forged":         forged,
		"tampered":       tampered,
		"wrong audience": foreignAud,
		"wrong type":     refreshTyped,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.ParseAccessToken(raw)
			if !errors.Is(err, ErrAccessTokenInvalid) {
				t.Fatalf("expected ErrAccessTokenInvalid, got %v", err)
			}
		})
	}
}

func TestParseAccessTokenForgedAndExpiredIsInvalid(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)
	other := NewJWTManager("iss", "aud", "zyxwvutsrqponmlkjihgfedcba654321").WithClock(clock.Now)

	forged, _, err := other.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	clock.t = clock.t.Add(time.Hour)

	if _, err := m.ParseAccessToken(forged); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("forged expired token must be invalid, got %v", err)
	}
}

func TestRefreshTokenEntropyAndHash(t *testing.T) {
	a, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	b, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct refresh tokens")
	}
	if len(a) != 43 {
		t.Fatalf("expected 43 base64url chars for 32 bytes, got %d", len(a))
	}
	if HashRefreshToken(a, "pepper") == HashRefreshToken(a, "other") {
		t.Fatal("expected pepper to change the hash")
	}
	if HashRefreshToken(a, "pepper") != HashRefreshToken(a, "pepper") {
		t.Fatal("expected deterministic hash")
	}
	if HashRefreshToken(a, "pepper") == a {
		t.Fatal("hash must not equal the raw value")
	}
}
