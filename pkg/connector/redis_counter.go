package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CallCounter backs ZeroTrustGate's per-connector-per-minute call
// counting. The in-memory map inside ZeroTrustGate is correct for a
// single process; RedisCallCounter lets several gateway replicas share
// one rate-limit window instead of each enforcing its own.
type CallCounter interface {
	// Increment bumps the call count for connectorID in the one-minute
	// window containing now and returns the count after incrementing.
	Increment(ctx context.Context, connectorID string, now time.Time) (int, error)
}

// RedisCallCounter implements CallCounter with INCR + EXPIRE against a
// shared Redis instance, selected in place of the in-memory map when
// UAPK_REDIS_ADDR is set.
type RedisCallCounter struct {
	Client *redis.Client
}

// NewRedisCallCounter dials addr lazily (redis.NewClient never blocks
// on connect); the first Increment call surfaces any connection error.
func NewRedisCallCounter(addr string) *RedisCallCounter {
	return &RedisCallCounter{Client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisCallCounter) Increment(ctx context.Context, connectorID string, now time.Time) (int, error) {
	key := fmt.Sprintf("uapk:connector_calls:%s:%d", connectorID, now.Unix()/60)
	n, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.Client.Expire(ctx, key, 2*time.Minute)
	}
	return int(n), nil
}
