package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the relay's reader-status cache. Losing it is not fatal: the
// hub falls back to its in-memory copy and asks the bridge.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with timeouts tight enough that a dead redis slows a
// status lookup, never a card tap.
func NewRedis(addr string) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:            addr,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     500 * time.Millisecond,
		WriteTimeout:    500 * time.Millisecond,
		MaxRetries:      1,
		ConnMaxIdleTime: 5 * time.Minute,
	})}
}

// Healthy verifies redis connectivity for the health endpoint.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
