package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// ConversationRepository keeps per-user conversation state in the same Redis
// instance as the sessions. Entries expire after an idle period; losing one
// only forces the user to start over.
type ConversationRepository struct {
	rdb     *redis.Client
	idleTTL time.Duration
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(rdb *redis.Client, idleTTL time.Duration) *ConversationRepository {
	return &ConversationRepository{rdb: rdb, idleTTL: idleTTL}
}

// Get returns the stored conversation, or nil when there is none.
func (r *ConversationRepository) Get(ctx context.Context, telegramID int64) (*model.Conversation, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.ConversationKey(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var c model.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

// Save writes the whole conversation and refreshes the idle expiry.
func (r *ConversationRepository) Save(ctx context.Context, telegramID int64, c *model.Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.ConversationKey(telegramID), raw, r.idleTTL).Err()
}

// Clear drops the conversation.
func (r *ConversationRepository) Clear(ctx context.Context, telegramID int64) error {
	return r.rdb.Del(ctx, config.CacheKey.ConversationKey(telegramID)).Err()
}
