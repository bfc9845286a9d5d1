package service

import (
	"errors"
	"fmt"

	"github.com/sandeepkv93/session-auth-core/internal/repository"
)

var (
	ErrAccessExpired = errors.New("access token expired")
	ErrAccessInvalid = errors.New("access token invalid")
	// ErrAccessMissing is an ErrAccessInvalid with no token presented at all.
	ErrAccessMissing = fmt.Errorf("%w: missing token", ErrAccessInvalid)

	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshExpired  = errors.New("refresh token expired")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidInput       = errors.New("invalid input")
)

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrRefreshTokenNotFound):
		return ErrRefreshNotFound
	case errors.Is(err, repository.ErrRefreshTokenRevoked):
		return ErrRefreshRevoked
	case errors.Is(err, repository.ErrRefreshTokenExpired):
		return ErrRefreshExpired
	default:
		return err
	}
}

// AccessOutcome names a verification result for metrics and audit lines.
func AccessOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrAccessExpired):
		return "expired"
	case errors.Is(err, ErrAccessMissing):
		return "missing"
	default:
		return "invalid"
	}
}

// RefreshOutcome names a refresh result for metrics.
func RefreshOutcome(err error) string {
	switch {
	case err == nil:
		return "rotated"
	case errors.Is(err, ErrRefreshNotFound):
		return "not_found"
	case errors.Is(err, ErrRefreshRevoked):
		return "revoked"
	case errors.Is(err, ErrRefreshExpired):
		return "expired"
	default:
		return "error"
	}
}
