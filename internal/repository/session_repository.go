package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// SessionRepository is the durable, TTL-bound store of in-flight sessions.
// A present key means the user has a test in progress.
type SessionRepository struct {
	rdb *redis.Client
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(rdb *redis.Client) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

// Get returns the stored session, or nil when the user has none.
func (r *SessionRepository) Get(ctx context.Context, telegramID int64) (*model.Session, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionKey(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Save overwrites the session and resets its expiry.
func (r *SessionRepository) Save(ctx context.Context, s *model.Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, config.CacheKey.SessionKey(s.TelegramID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Exists reports whether a session key is present.
func (r *SessionRepository) Exists(ctx context.Context, telegramID int64) (bool, error) {
	n, err := r.rdb.Exists(ctx, config.CacheKey.SessionKey(telegramID)).Result()
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of the session key.
func (r *SessionRepository) TTL(ctx context.Context, telegramID int64) (time.Duration, error) {
	return r.rdb.TTL(ctx, config.CacheKey.SessionKey(telegramID)).Result()
}

// Delete removes the session key. Deleting a missing key is not an error.
func (r *SessionRepository) Delete(ctx context.Context, telegramID int64) error {
	return r.rdb.Del(ctx, config.CacheKey.SessionKey(telegramID)).Err()
}

// ActiveIDs lists the users that currently hold a session key.
func (r *SessionRepository) ActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	iter := r.rdb.Scan(ctx, 0, config.CacheKey.SessionKeyPattern(), 100).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), strings.TrimSuffix(config.CacheKey.SessionKeyPattern(), "*")), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return ids, nil
}
