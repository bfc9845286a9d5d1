package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

// RefreshStore persists hashed refresh token records. Rotate must be atomic:
// for any stored hash at most one call ever succeeds.
type RefreshStore interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// Rotate revokes the record for oldHash and stores next in its place.
	// next inherits the subject of the old record. The revoked predecessor is returned.
	Rotate(ctx context.Context, oldHash string, now time.Time, next *domain.RefreshToken) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error)
	CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormRefreshStore struct{ db *gorm.DB }

func NewGormRefreshStore(db *gorm.DB) *GormRefreshStore { return &GormRefreshStore{db: db} }

func (r *GormRefreshStore) Create(ctx context.Context, t *domain.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshStore) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormRefreshStore) Rotate(ctx context.Context, oldHash string, now time.Time, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	var rotated *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", oldHash).
			First(&cur).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		if cur.Revoked {
			return ErrRefreshTokenRevoked
		}
		if cur.Expired(now) {
			return ErrRefreshTokenExpired
		}

		reason := domain.RevokeReasonRotated
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND revoked = ?", cur.ID, false).
			Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		// Lost the race against a concurrent rotate or logout.
		if res.RowsAffected != 1 {
			return ErrRefreshTokenRevoked
		}

		next.SubjectID = cur.SubjectID
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		cur.Revoked = true
		cur.RevokedAt = &now
		cur.RevokedReason = &reason
		rotated = &cur
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", outcomeOf(err))
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return rotated, nil
}

func (r *GormRefreshStore) Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ? AND revoked = ?", hash, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormRefreshStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", cutoff).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "cleanup_expired", "success")
	return res.RowsAffected, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrRefreshTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrRefreshTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrRefreshTokenExpired):
		return "expired"
	default:
		return "error"
	}
}
