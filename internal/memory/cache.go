package memory

import (
	"context"
	"time"

	"virtualgo/internal/redis"

	"go.uber.org/zap"
)

const (
	historyKeyPrefix = "memory:history:"
	historyTTL       = 30 * time.Minute
)

// historyCache keeps the encoded history blob in redis so repeat turns on a
// hot conversation skip the database read. Every method tolerates a nil
// client; cache failures degrade to database reads and never fail the caller.
type historyCache struct {
	client *redis.Client
	logger *zap.Logger
}

func newHistoryCache(client *redis.Client, logger *zap.Logger) *historyCache {
	return &historyCache{client: client, logger: logger}
}

func (c *historyCache) load(ctx context.Context, conversationID string) (string, bool) {
	if c == nil || c.client == nil || conversationID == "" {
		return "", false
	}
	blob, err := c.client.Get(ctx, historyKeyPrefix+conversationID)
	if err != nil {
		if err != redis.ErrCacheMiss {
			c.logger.Warn("history cache read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return "", false
	}
	return blob, true
}

func (c *historyCache) store(ctx context.Context, conversationID, blob string) {
	if c == nil || c.client == nil || conversationID == "" {
		return
	}
	if err := c.client.Set(ctx, historyKeyPrefix+conversationID, blob, historyTTL); err != nil {
		c.logger.Warn("history cache write failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (c *historyCache) invalidate(ctx context.Context, conversationID string) {
	if c == nil || c.client == nil || conversationID == "" {
		return
	}
	if err := c.client.Del(ctx, historyKeyPrefix+conversationID); err != nil && err != redis.ErrCacheMiss {
		c.logger.Warn("history cache invalidate failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
