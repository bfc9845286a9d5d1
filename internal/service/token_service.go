package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/repository"
	"github.com/sandeepkv93/session-auth-core/internal/security"
)

type TokenPair struct {
	SubjectID        string    `json:"subject"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type TokenService struct {
	jwtMgr     *security.JWTManager
	store      repository.RefreshStore
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	locks      *keyedMutex
}

func NewTokenService(jwtMgr *security.JWTManager, store repository.RefreshStore, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		store:      store,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      newKeyedMutex(),
	}
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) IssueAccessToken(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrInvalidInput)
	}
	return s.jwtMgr.SignAccessToken(subjectID, s.accessTTL)
}

// IssueRefreshToken stores the hash of a fresh random token. The raw value is
// only ever returned here.
func (s *TokenService) IssueRefreshToken(ctx context.Context, subjectID string) (string, *domain.RefreshToken, error) {
	if subjectID == "" {
		return "", nil, fmt.Errorf("%w: empty subject", ErrInvalidInput)
	}
	raw, rec, err := s.newRefreshRecord(subjectID, s.now())
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return raw, rec, nil
}

func (s *TokenService) Issue(ctx context.Context, subjectID string) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(subjectID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.IssueRefreshToken(ctx, subjectID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		SubjectID:        subjectID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *TokenService) VerifyRefreshToken(ctx context.Context, raw string) (string, error) {
	hash, ok := s.hash(raw)
	if !ok {
		return "", ErrRefreshNotFound
	}
	rec, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return "", mapStoreError(err)
	}
	if rec.Revoked {
		return "", ErrRefreshRevoked
	}
	if rec.Expired(s.now()) {
		return "", ErrRefreshExpired
	}
	return rec.SubjectID, nil
}

// Rotate exchanges a live refresh token for a new pair. For a given raw token
// at most one call succeeds; every later call sees ErrRefreshRevoked.
func (s *TokenService) Rotate(ctx context.Context, raw string) (TokenPair, error) {
	ctx, span := observability.Tracer().Start(ctx, "token.rotate")
	defer span.End()

	pair, err := s.rotate(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, RefreshOutcome(err))
	}
	return pair, err
}

func (s *TokenService) rotate(ctx context.Context, raw string) (TokenPair, error) {
	hash, ok := s.hash(raw)
	if !ok {
		return TokenPair{}, ErrRefreshNotFound
	}
	unlock := s.locks.Lock(hash)
	defer unlock()

	now := s.now()
	nextRaw, next, err := s.newRefreshRecord("", now)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.Rotate(ctx, hash, now, next); err != nil {
		return TokenPair{}, mapStoreError(err)
	}
	access, accessExp, err := s.IssueAccessToken(next.SubjectID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		SubjectID:        next.SubjectID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Revoke ends the session behind raw. Unknown, malformed and already revoked
// tokens are not errors.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	hash, ok := s.hash(raw)
	if !ok {
		return nil
	}
	unlock := s.locks.Lock(hash)
	defer unlock()

	if _, err := s.store.Revoke(ctx, hash, domain.RevokeReasonLogout, s.now()); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) newRefreshRecord(subjectID string, now time.Time) (string, *domain.RefreshToken, error) {
	raw, err := security.NewRefreshToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return raw, &domain.RefreshToken{
		TokenHash: security.HashRefreshToken(raw, s.pepper),
		SubjectID: subjectID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}, nil
}

func (s *TokenService) hash(raw string) (string, bool) {
	if raw == "" || len(raw) > security.MaxRefreshTokenLength {
		return "", false
	}
	return security.HashRefreshToken(raw, s.pepper), true
}
