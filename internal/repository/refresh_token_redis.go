package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
)

const (
	redisRotateNotFound = 0
	redisRotateExpired  = 1
	redisRotateRevoked  = 2
	redisRotateOK       = 3
)

// KEYS[1] old record, KEYS[2] successor.
// ARGV: now_ms, next_expires_ms, next_created_ms, next_expire_at_ms, reason.
var rotateRefreshTokenLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
local rec = redis.call("HMGET", KEYS[1], "subject_id", "expires_at", "revoked")
if not rec[1] or not tonumber(rec[2]) then
  return {0}
end
if rec[3] == "1" then
  return {2}
end
if tonumber(rec[2]) <= tonumber(ARGV[1]) then
  return {1}
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "revoked_reason", ARGV[5])
redis.call("HSET", KEYS[2], "subject_id", rec[1], "expires_at", ARGV[2], "created_at", ARGV[3], "revoked", "0")
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
return {3, rec[1]}
`)

// KEYS[1] record. ARGV: now_ms, reason.
var revokeRefreshTokenLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "revoked_reason", ARGV[2])
return 1
`)

// RedisRefreshStore keeps each record in a hash whose key expires retention
// after the token itself, so expired tokens still report as expired for a while
// before redis drops them.
type RedisRefreshStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisRefreshStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisRefreshStore {
	if prefix == "" {
		prefix = "sac"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisRefreshStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisRefreshStore) Create(ctx context.Context, t *domain.RefreshToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	key := s.key(t.TokenHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"subject_id", t.SubjectID,
			"expires_at", t.ExpiresAt.UnixMilli(),
			"created_at", t.CreatedAt.UnixMilli(),
			"revoked", "0",
		)
		pipe.PExpireAt(ctx, key, t.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "create", "error")
		return fmt.Errorf("store refresh token: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "create", "success")
	return nil
}

func (s *RedisRefreshStore) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	fields, err := s.client.HGetAll(ctx, s.key(hash)).Result()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "find_by_hash", "error")
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if len(fields) == 0 {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "find_by_hash", "not_found")
		return nil, ErrRefreshTokenNotFound
	}
	t, err := decodeRefreshToken(hash, fields)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "find_by_hash", "success")
	return t, nil
}

func (s *RedisRefreshStore) Rotate(ctx context.Context, oldHash string, now time.Time, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	raw, err := rotateRefreshTokenLua.Run(ctx, s.client,
		[]string{s.key(oldHash), s.key(next.TokenHash)},
		now.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		next.CreatedAt.UnixMilli(),
		next.ExpiresAt.Add(s.retention).UnixMilli(),
		domain.RevokeReasonRotated,
	).Slice()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "rotate", "error")
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if len(raw) == 0 {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "rotate", "error")
		return nil, fmt.Errorf("rotate refresh token: empty script reply")
	}
	status, _ := raw[0].(int64)
	switch status {
	case redisRotateNotFound:
		err = ErrRefreshTokenNotFound
	case redisRotateExpired:
		err = ErrRefreshTokenExpired
	case redisRotateRevoked:
		err = ErrRefreshTokenRevoked
	case redisRotateOK:
	default:
		err = fmt.Errorf("rotate refresh token: unexpected script status %v", raw[0])
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "rotate", outcomeOf(err))
		return nil, err
	}

	subject, _ := raw[1].(string)
	next.SubjectID = subject
	reason := domain.RevokeReasonRotated
	revokedAt := now
	observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "rotate", "success")
	return &domain.RefreshToken{
		TokenHash:     oldHash,
		SubjectID:     subject,
		Revoked:       true,
		RevokedAt:     &revokedAt,
		RevokedReason: &reason,
	}, nil
}

func (s *RedisRefreshStore) Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	changed, err := revokeRefreshTokenLua.Run(ctx, s.client, []string{s.key(hash)}, now.UnixMilli(), reason).Int()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "revoke", "error")
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token_redis", "revoke", "success")
	return changed == 1, nil
}

// CleanupExpired is a no-op: key expiry purges records once retention elapses.
func (s *RedisRefreshStore) CleanupExpired(ctx context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisRefreshStore) key(hash string) string {
	return s.prefix + ":rt:" + hash
}

func decodeRefreshToken(hash string, fields map[string]string) (*domain.RefreshToken, error) {
	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode refresh token expires_at: %w", err)
	}
	t := &domain.RefreshToken{
		TokenHash: hash,
		SubjectID: fields["subject_id"],
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
		Revoked:   fields["revoked"] == "1",
	}
	if v, ok := fields["created_at"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.CreatedAt = time.UnixMilli(ms).UTC()
		}
	}
	if v, ok := fields["revoked_at"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			at := time.UnixMilli(ms).UTC()
			t.RevokedAt = &at
		}
	}
	if v, ok := fields["revoked_reason"]; ok {
		reason := v
		t.RevokedReason = &reason
	}
	return t, nil
}
