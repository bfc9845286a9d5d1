package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/repository"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
	minUsernameLength = 3
	maxUsernameLength = 64
)

// CredentialVerifier resolves a username or email plus password to a subject id.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (string, error)
}

type CredentialService struct {
	users repository.UserRepository
	cost  int
	// compared against when the user is unknown so both paths pay for bcrypt
	dummyHash []byte
}

func NewCredentialService(users repository.UserRepository, cost int) *CredentialService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return &CredentialService{users: users, cost: cost, dummyHash: dummy}
}

func (s *CredentialService) Verify(ctx context.Context, identifier, password string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	var (
		user *domain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.FindByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return user.ID, nil
}

func (s *CredentialService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func validateRegistration(username, email, password string) error {
	if n := len(username); n < minUsernameLength || n > maxUsernameLength {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLength, maxUsernameLength)
	}
	if strings.Contains(username, "@") {
		return fmt.Errorf("%w: username must not contain @", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if n := len(password); n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}
	return nil
}
