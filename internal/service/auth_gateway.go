package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-auth-core/internal/security"
)

// AuthGateway classifies access tokens presented on requests and connection handshakes.
type AuthGateway struct {
	jwtMgr *security.JWTManager
}

func NewAuthGateway(jwtMgr *security.JWTManager) *AuthGateway {
	return &AuthGateway{jwtMgr: jwtMgr}
}

// VerifyAccessRequest returns ErrAccessExpired only when the token is authentic
// and its TTL elapsed. Every other failure is ErrAccessInvalid.
func (g *AuthGateway) VerifyAccessRequest(_ context.Context, raw string) (*security.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrAccessMissing
	}
	claims, err := g.jwtMgr.ParseAccessToken(raw)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, security.ErrAccessTokenExpired):
		return claims, ErrAccessExpired
	default:
		return nil, ErrAccessInvalid
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
