package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/security"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newGatewayForTest() (*security.JWTManager, *service.AuthGateway, *fixedClock) {
	clock := &fixedClock{t: time.Now().UTC().Truncate(time.Second)}
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456").WithClock(clock.Now)
	return jwtMgr, service.NewAuthGateway(jwtMgr), clock
}

func serveProtected(gw *service.AuthGateway, authHeader string) *httptest.ResponseRecorder {
	h := AuthMiddleware(gw)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthMiddlewareMissingTokenReturnsInvalid(t *testing.T) {
	_, gw, _ := newGatewayForTest()
	rr := serveProtected(gw, "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
	if got := rr.Header().Get(response.AuthErrorHeader); got != response.CodeAccessTokenInvalid {
		t.Fatalf("expected invalid code, got %q", got)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	jwtMgr, gw, _ := newGatewayForTest()
	token, _, err := jwtMgr.SignAccessToken("user-42", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rr := serveProtected(gw, "Bearer "+token)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareExpiredTokenIsDistinguished(t *testing.T) {
	jwtMgr, gw, clock := newGatewayForTest()
	token, _, err := jwtMgr.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	clock.t = clock.t.Add(2 * time.Minute)
	rr := serveProtected(gw, "Bearer "+token)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get(response.AuthErrorHeader); got != response.CodeAccessTokenExpired {
		t.Fatalf("expected expired code, got %q", got)
	}
}

func TestAuthMiddlewareTamperedTokenIsInvalid(t *testing.T) {
	jwtMgr, gw, _ := newGatewayForTest()
	token, _, err := jwtMgr.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rr := serveProtected(gw, "Bearer "+token+"x")

	if got := rr.Header().Get(response.AuthErrorHeader); got != response.CodeAccessTokenInvalid {
		t.Fatalf("expected invalid code, got %q", got)
	}
}
