package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares limiter state between instances. SET NX PX gives the same
// semantics as Memory: the key lives for one window and its presence denies.
type Redis struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, window time.Duration, prefix string) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, window: window, prefix: prefix}
}

// Admit fails open: when redis cannot answer the request is admitted and the
// error is returned for logging.
func (r *Redis) Admit(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.window).Result()
	if err != nil {
		return true, fmt.Errorf("ratelimit: redis setnx: %w", err)
	}
	return ok, nil
}
