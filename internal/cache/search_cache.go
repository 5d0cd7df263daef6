package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"vectra-insight/internal/index"
)

// SearchCache keeps one entry per chat: the last query and its fragments.
// Sync and delete drop the entry, so a stale hit can only repeat a search
// that is still valid for the chat's current file set.
type SearchCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

type cachedSearch struct {
	Query     string           `json:"query"`
	Fragments []index.Fragment `json:"fragments"`
}

func NewSearchCache(client *redisv9.Client, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *SearchCache) Get(ctx context.Context, chatID uint) (string, []index.Fragment, bool, error) {
	raw, err := c.client.Get(ctx, c.key(chatID)).Result()
	if err == redisv9.Nil {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("redis get search cache failed: %w", err)
	}

	var entry cachedSearch
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", nil, false, fmt.Errorf("unmarshal cached search failed: %w", err)
	}
	return entry.Query, entry.Fragments, true, nil
}

func (c *SearchCache) Set(ctx context.Context, chatID uint, query string, fragments []index.Fragment) error {
	payload, err := json.Marshal(cachedSearch{Query: query, Fragments: fragments})
	if err != nil {
		return fmt.Errorf("marshal search cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(chatID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set search cache failed: %w", err)
	}
	return nil
}

func (c *SearchCache) Delete(ctx context.Context, chatID uint) error {
	if err := c.client.Del(ctx, c.key(chatID)).Err(); err != nil {
		return fmt.Errorf("redis delete search cache failed: %w", err)
	}
	return nil
}

func (c *SearchCache) key(chatID uint) string {
	return fmt.Sprintf("chat:search:%d", chatID)
}
