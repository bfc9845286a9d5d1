package service

import (
	"context"
	"log/slog"

	"github.com/sandeepkv93/session-auth-core/internal/observability"
)

// AuthService drives the public auth flows on top of the credential and token services.
type AuthService struct {
	creds  *CredentialService
	tokens *TokenService
	logger *slog.Logger
}

func NewAuthService(creds *CredentialService, tokens *TokenService, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{creds: creds, tokens: tokens, logger: logger}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (TokenPair, error) {
	user, err := s.creds.Register(ctx, username, email, password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "register_rejected")
		return TokenPair{}, err
	}
	pair, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return TokenPair{}, err
	}
	observability.RecordAuthLogin(ctx, "registered")
	return pair, nil
}

func (s *AuthService) Login(ctx context.Context, identifier, password string) (TokenPair, error) {
	subject, err := s.creds.Verify(ctx, identifier, password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "rejected")
		return TokenPair{}, err
	}
	pair, err := s.tokens.Issue(ctx, subject)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return TokenPair{}, err
	}
	observability.RecordAuthLogin(ctx, "success")
	return pair, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	observability.RecordAuthRefresh(ctx, RefreshOutcome(err))
	if err != nil {
		s.logger.InfoContext(ctx, "refresh rejected", "outcome", RefreshOutcome(err))
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return err
	}
	observability.RecordAuthLogout(ctx, "success")
	return nil
}
