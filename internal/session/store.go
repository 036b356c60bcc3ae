package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"virtualgo/internal/redis"
)

// Redis key layout: virtual:auth:token:<userID> -> token, expiring with the
// configured TTL.
const tokenKeyPrefix = "virtual:auth:token:"

// Cache is the slice of the redis wrapper the store needs. *redis.Client
// satisfies it.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Store keeps at most one live token per user. Issuing overwrites the previous
// token, which is how single active session is enforced: the old token simply
// stops matching. Tokens live only in the cache; a restart logs everyone out,
// which is acceptable because re-login is cheap.
type Store struct {
	cache Cache
	ttl   time.Duration
}

func NewStore(cache Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{cache: cache, ttl: ttl}
}

// Issue stores the token for the user, unconditionally replacing any existing
// one.
func (s *Store) Issue(ctx context.Context, userID int64, token string) error {
	if userID <= 0 || token == "" {
		return errors.New("user id and token are required")
	}
	if err := s.cache.Set(ctx, tokenKey(userID), token, s.ttl); err != nil {
		return fmt.Errorf("issue session token: %w", err)
	}
	return nil
}

// Validate reports whether token is the user's currently stored token. An
// absent or expired entry is false, not an error.
func (s *Store) Validate(ctx context.Context, userID int64, token string) (bool, error) {
	if userID <= 0 || token == "" {
		return false, nil
	}
	stored, err := s.cache.Get(ctx, tokenKey(userID))
	if err != nil {
		if err == redis.ErrCacheMiss {
			return false, nil
		}
		return false, fmt.Errorf("validate session token: %w", err)
	}
	return stored == token, nil
}

// Revoke deletes the user's token. Revoking an absent token is a no-op.
func (s *Store) Revoke(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	if err := s.cache.Del(ctx, tokenKey(userID)); err != nil && err != redis.ErrCacheMiss {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// TokenTTL reports the configured token lifetime.
func (s *Store) TokenTTL() time.Duration {
	return s.ttl
}

func tokenKey(userID int64) string {
	return tokenKeyPrefix + strconv.FormatInt(userID, 10)
}
