package domain

import "time"

// RefreshToken is the server-side record of an issued refresh token.
// Only the hash of the raw value is stored.
type RefreshToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	SubjectID     string     `gorm:"size:64;index;not null" json:"subject_id"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	Revoked       bool       `gorm:"not null;default:false" json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

const (
	RevokeReasonRotated = "rotated"
	RevokeReasonLogout  = "logout"
)

func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
