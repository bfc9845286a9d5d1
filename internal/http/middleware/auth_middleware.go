package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/security"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AccessVerifier is satisfied by service.AuthGateway.
type AccessVerifier interface {
	VerifyAccessRequest(ctx context.Context, raw string) (*security.Claims, error)
}

func AuthMiddleware(gateway AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := service.BearerToken(r.Header.Get("Authorization"))
			claims, err := gateway.VerifyAccessRequest(r.Context(), raw)
			outcome := service.AccessOutcome(err)
			observability.RecordAccessTokenValidation(r.Context(), outcome, "http")
			if err != nil {
				WriteAccessError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteAccessError answers a failed access verification. Invalid tokens are
// audited; expired ones are routine and only counted.
func WriteAccessError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrAccessExpired) {
		response.Unauthorized(w, r, response.CodeAccessTokenExpired, "access token expired")
		return
	}
	observability.Audit(r, "access_token.rejected", "outcome", service.AccessOutcome(err))
	response.Unauthorized(w, r, response.CodeAccessTokenInvalid, "access token invalid")
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
