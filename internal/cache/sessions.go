package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// SessionCache shortcuts session resolution for hot handles. It is a
// read-through cache over the sessions table: Invalidate runs on every
// logout and revocation, so a destroyed session never resolves from here.
// A nil client disables the cache and every lookup misses.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client, ttl: 30 * time.Second}
}

// GetUserID returns the user bound to sessionID, or "" on a miss.
func (c *SessionCache) GetUserID(ctx context.Context, sessionID string) string {
	if c == nil || c.client == nil {
		return ""
	}
	userID, err := c.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return ""
	}
	return userID
}

func (c *SessionCache) Put(ctx context.Context, sessionID string, userID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, sessionKeyPrefix+sessionID, userID, c.ttl).Err()
}

func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, sessionKeyPrefix+sessionID).Err()
}
