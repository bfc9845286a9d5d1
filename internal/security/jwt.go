package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

var (
	// ErrAccessTokenExpired means the signature checked out but the TTL elapsed.
	ErrAccessTokenExpired = errors.New("access token expired")
	// ErrAccessTokenInvalid covers every structural failure: signature, format, issuer, audience, type.
	ErrAccessTokenInvalid = errors.New("access token invalid")
)

type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
	now          func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
		now:          time.Now,
	}
}

// WithClock replaces the time source used for signing and validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) SignAccessToken(subject string, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies raw. On ErrAccessTokenExpired the decoded claims are
// still returned so callers can log the subject.
func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return m.accessSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if onlyExpired(err) && claims.TokenType == tokenTypeAccess && claims.Subject != "" {
			return claims, fmt.Errorf("%w: %v", ErrAccessTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenInvalid, err)
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrAccessTokenInvalid, claims.TokenType)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrAccessTokenInvalid)
	}
	return claims, nil
}

// onlyExpired is true when expiry is the sole reason the token was rejected.
// jwt/v5 verifies the signature before it validates claims, so an expiry error
// implies a good signature.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}
