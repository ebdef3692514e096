package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const userStatusHashKey = "user_status"

// TailCache is the typed wrapper over the remote key-value store's list and
// hash operations. It maps domain verbs directly to cache verbs and adds no
// other logic — failures are the caller's responsibility to treat as
// advisory (spec §7 TransientCache).
type TailCache interface {
	// PushTail pushes envelopeJSON onto the front of the channel's tail
	// list and trims it to the configured bound.
	PushTail(ctx context.Context, roomID, channelID string, envelopeJSON []byte) error

	// LoadTail returns the full bounded tail, newest first.
	LoadTail(ctx context.Context, roomID, channelID string) ([][]byte, error)

	// SetStatus mirrors a user's presence status into the shared hash.
	SetStatus(ctx context.Context, userID, status string) error

	// GetStatus reads one user's status, with ok=false if absent.
	GetStatus(ctx context.Context, userID string) (string, bool, error)

	// GetAllStatuses returns the full user_status hash.
	GetAllStatuses(ctx context.Context) (map[string]string, error)
}

// RedisTailCache is the production TailCache backed by go-redis.
type RedisTailCache struct {
	client *redis.Client
	limit  int64
}

// NewRedisTailCache creates a TailCache bounding each channel's tail to
// limit entries (spec default 100).
func NewRedisTailCache(client *redis.Client, limit int64) *RedisTailCache {
	if limit <= 0 {
		limit = 100
	}
	return &RedisTailCache{client: client, limit: limit}
}

func tailKey(roomID, channelID string) string {
	return fmt.Sprintf("room:%s:channel:%s:messages", roomID, channelID)
}

func (c *RedisTailCache) PushTail(ctx context.Context, roomID, channelID string, envelopeJSON []byte) error {
	key := tailKey(roomID, channelID)
	if err := c.client.LPush(ctx, key, envelopeJSON).Err(); err != nil {
		return fmt.Errorf("cache: lpush: %w", err)
	}
	if err := c.client.LTrim(ctx, key, 0, c.limit-1).Err(); err != nil {
		return fmt.Errorf("cache: ltrim: %w", err)
	}
	return nil
}

func (c *RedisTailCache) LoadTail(ctx context.Context, roomID, channelID string) ([][]byte, error) {
	key := tailKey(roomID, channelID)
	vals, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: lrange: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (c *RedisTailCache) SetStatus(ctx context.Context, userID, status string) error {
	if err := c.client.HSet(ctx, userStatusHashKey, userID, status).Err(); err != nil {
		return fmt.Errorf("cache: hset: %w", err)
	}
	return nil
}

func (c *RedisTailCache) GetStatus(ctx context.Context, userID string) (string, bool, error) {
	val, err := c.client.HGet(ctx, userStatusHashKey, userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: hget: %w", err)
	}
	return val, true, nil
}

func (c *RedisTailCache) GetAllStatuses(ctx context.Context) (map[string]string, error) {
	vals, err := c.client.HGetAll(ctx, userStatusHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: hgetall: %w", err)
	}
	return vals, nil
}
