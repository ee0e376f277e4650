package translation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

// Cache stores translations keyed by message and target language.
type Cache interface {
	Get(ctx context.Context, messageID uuid.UUID, target string) (models.Translation, bool, error)
	Set(ctx context.Context, tr models.Translation) error
	// Evict drops every target language cached for the message.
	Evict(ctx context.Context, messageID uuid.UUID) error
}

func cacheKey(messageID uuid.UUID, target string) string {
	return messagePrefix(messageID) + target
}

func messagePrefix(messageID uuid.UUID) string {
	return "translation:" + messageID.String() + ":"
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, messageID uuid.UUID, target string) (models.Translation, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(messageID, target)).Result()
	if err == redis.Nil {
		return models.Translation{}, false, nil
	}
	if err != nil {
		return models.Translation{}, false, errors.Wrap(err, "translation cache get")
	}
	var tr models.Translation
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		return models.Translation{}, false, errors.Wrap(err, "translation cache decode")
	}
	return tr, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tr models.Translation) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	return errors.Wrap(c.rdb.Set(ctx, cacheKey(tr.MessageID, tr.TargetLanguage), data, c.ttl).Err(), "translation cache set")
}

func (c *RedisCache) Evict(ctx context.Context, messageID uuid.UUID) error {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, messagePrefix(messageID)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "translation cache scan")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.rdb.Del(ctx, keys...).Err(), "translation cache evict")
}

// MemoryCache is used when no redis is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.Translation
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.Translation)}
}

func (c *MemoryCache) Get(_ context.Context, messageID uuid.UUID, target string) (models.Translation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.entries[cacheKey(messageID, target)]
	return tr, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, tr models.Translation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(tr.MessageID, tr.TargetLanguage)] = tr
	return nil
}

func (c *MemoryCache) Evict(_ context.Context, messageID uuid.UUID) error {
	prefix := messagePrefix(messageID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}
