package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "channeladmin:roles:"

type redisEntry struct {
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at"`
}

// RedisCache shares role sets between processes through Redis. Keys expire
// natively; the stored expiry stamp guards against clock skew on PX.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger, now: time.Now}
}

func redisKey(userID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, userID)
}

// Get implements Cache. Redis failures are logged and read as a miss.
func (c *RedisCache) Get(ctx context.Context, userID int64) ([]string, bool) {
	raw, err := c.client.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("role cache get failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("role cache entry corrupt", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, false
	}
	if c.now().UnixNano() >= e.ExpiresAt {
		return nil, false
	}
	if e.Roles == nil {
		e.Roles = []string{}
	}
	return e.Roles, true
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, userID int64, roles []string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(redisEntry{Roles: roles, ExpiresAt: c.now().Add(ttl).UnixNano()})
	if err != nil {
		c.logger.Warn("role cache encode failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, redisKey(userID), payload, ttl).Err(); err != nil {
		c.logger.Warn("role cache set failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) {
	if err := c.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		c.logger.Warn("role cache invalidate failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// Sweep implements Cache. Redis evicts expired keys itself.
func (c *RedisCache) Sweep(context.Context) int { return 0 }
