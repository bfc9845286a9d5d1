package sessionclient

import (
	"errors"
	"fmt"
)

var (
	ErrAccessExpired      = errors.New("access token expired")
	ErrAccessInvalid      = errors.New("access token invalid")
	ErrRefreshNotFound    = errors.New("refresh token not found")
	ErrRefreshRevoked     = errors.New("refresh token revoked")
	ErrRefreshExpired     = errors.New("refresh token expired")
	ErrRefreshTransient   = errors.New("refresh failed transiently")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthenticated    = errors.New("session is not authenticated")
	ErrSessionClosed      = errors.New("session closed")
	ErrNotConnected       = errors.New("persistent connection not established")
)

// IsTerminal reports whether err means the user has to log in again.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRefreshNotFound) ||
		errors.Is(err, ErrRefreshRevoked) ||
		errors.Is(err, ErrRefreshExpired) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrSessionClosed)
}

func isRefreshRejected(err error) bool {
	return errors.Is(err, ErrRefreshNotFound) ||
		errors.Is(err, ErrRefreshRevoked) ||
		errors.Is(err, ErrRefreshExpired)
}

// APIError is a non-2xx response that did not map onto a known sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: %s: %s", e.Code, e.Message)
}
