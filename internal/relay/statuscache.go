package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKey = "campuscard:reader-status"

// RedisStatusCache keeps the last reader status in redis so a restarted
// server answers get-status without waiting for the bridge to reconnect.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

// Put stores the status. Failures are ignored: the in-memory copy in the
// hub is authoritative while the server is up.
func (c *RedisStatusCache) Put(ctx context.Context, status ReaderStatus) {
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statusKey, raw, c.ttl).Err()
}

// Get loads the last stored status.
func (c *RedisStatusCache) Get(ctx context.Context) (ReaderStatus, bool) {
	raw, err := c.client.Get(ctx, statusKey).Bytes()
	if err != nil {
		return ReaderStatus{}, false
	}
	var status ReaderStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return ReaderStatus{}, false
	}
	return status, true
}
