package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uninest/chatcore/models"
)

const (
	conversationsKeyPrefix = "chat:conversations:"
	messagesKeyPrefix      = "chat:messages:"
	conversationsTTL       = 24 * time.Hour
	messagesTTL            = time.Hour
	dialTimeout            = 3 * time.Second
)

// ConversationCache is a best-effort cache of per-user conversation lists and
// per-conversation message pages. It only ever trades freshness for latency:
// a miss or a cache failure falls through to the database, which stays
// authoritative.
type ConversationCache interface {
	GetConversations(ctx context.Context, userID string) ([]models.ConversationSummary, bool)
	SetConversations(ctx context.Context, userID string, summaries []models.ConversationSummary)
	Invalidate(ctx context.Context, userIDs ...string)
	GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, bool)
	SetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int, messages []models.Message)
	InvalidateMessages(ctx context.Context, conversationID uuid.UUID)
	Close() error
}

type redisCache struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedisCache connects to redis at url and verifies connectivity before
// handing the cache out.
func NewRedisCache(url string) (ConversationCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &redisCache{
		client: client,
		log:    logrus.WithField("component", "conversation_cache"),
	}, nil
}

func (c *redisCache) GetConversations(ctx context.Context, userID string) ([]models.ConversationSummary, bool) {
	raw, err := c.client.Get(ctx, conversationsKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Warn("cache read failed")
		return nil, false
	}

	var summaries []models.ConversationSummary
	if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
		c.log.WithError(err).Warn("cache entry corrupt, discarding")
		c.Invalidate(ctx, userID)
		return nil, false
	}
	return summaries, true
}

func (c *redisCache) SetConversations(ctx context.Context, userID string, summaries []models.ConversationSummary) {
	raw, err := json.Marshal(summaries)
	if err != nil {
		c.log.WithError(err).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, conversationsKeyPrefix+userID, raw, conversationsTTL).Err(); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
}

func (c *redisCache) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, conversationsKeyPrefix+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).Warn("cache invalidation failed")
	}
}

func messagesKey(conversationID uuid.UUID, limit, offset int) string {
	return fmt.Sprintf("%s%s:%d:%d", messagesKeyPrefix, conversationID, limit, offset)
}

func (c *redisCache) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, bool) {
	raw, err := c.client.Get(ctx, messagesKey(conversationID, limit, offset)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Warn("cache read failed")
		return nil, false
	}

	var messages []models.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		c.log.WithError(err).Warn("cache entry corrupt, discarding")
		c.InvalidateMessages(ctx, conversationID)
		return nil, false
	}
	return messages, true
}

func (c *redisCache) SetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int, messages []models.Message) {
	raw, err := json.Marshal(messages)
	if err != nil {
		c.log.WithError(err).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, messagesKey(conversationID, limit, offset), raw, messagesTTL).Err(); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
}

// InvalidateMessages drops every cached page of the conversation. Pages are
// keyed per limit/offset, so the keys are discovered with a scan.
func (c *redisCache) InvalidateMessages(ctx context.Context, conversationID uuid.UUID) {
	pattern := messagesKeyPrefix + conversationID.String() + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Warn("cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).Warn("cache invalidation failed")
	}
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

// Noop satisfies ConversationCache when no redis is configured; every read
// is a miss and writes are dropped.
type Noop struct{}

func (Noop) GetConversations(context.Context, string) ([]models.ConversationSummary, bool) {
	return nil, false
}
func (Noop) SetConversations(context.Context, string, []models.ConversationSummary) {}
func (Noop) Invalidate(context.Context, ...string)                                  {}
func (Noop) GetMessages(context.Context, uuid.UUID, int, int) ([]models.Message, bool) {
	return nil, false
}
func (Noop) SetMessages(context.Context, uuid.UUID, int, int, []models.Message) {}
func (Noop) InvalidateMessages(context.Context, uuid.UUID)                      {}
func (Noop) Close() error                                                       { return nil }
