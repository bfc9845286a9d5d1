package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
)

func TestUserRepositoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newSQLiteForTest(t))

	u := &domain.User{ID: "u-1", Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	byName, err := repo.FindByUsername(ctx, "alice")
	if err != nil || byName.ID != "u-1" {
		t.Fatalf("find by username: %+v %v", byName, err)
	}
	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil || byEmail.ID != "u-1" {
		t.Fatalf("find by email: %+v %v", byEmail, err)
	}
	if _, err := repo.FindByID(ctx, "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newSQLiteForTest(t))

	if err := repo.Create(ctx, &domain.User{ID: "u-1", Username: "alice", Email: "a@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, &domain.User{ID: "u-2", Username: "alice", Email: "b@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrUserDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}
