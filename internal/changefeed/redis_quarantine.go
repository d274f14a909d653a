package changefeed

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"achievement_engine/platform/logger"
)

const redisKeyPrefix = "engine:quarantine:"

// RedisQuarantine shares the quarantine set between engine instances.
// A held id is a key with a maxHold TTL; Release shortens it to the window.
type RedisQuarantine struct {
	client  redis.Cmdable
	window  time.Duration
	maxHold time.Duration
	log     *logger.Logger
}

var _ Quarantine = (*RedisQuarantine)(nil)

// NewRedisQuarantine creates a Redis-backed quarantine.
func NewRedisQuarantine(client redis.Cmdable, window, maxHold time.Duration, log *logger.Logger) *RedisQuarantine {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	if maxHold <= window {
		maxHold = 2 * time.Minute
	}
	return &RedisQuarantine{client: client, window: window, maxHold: maxHold, log: log}
}

func (q *RedisQuarantine) Acquire(ctx context.Context, id string) (bool, error) {
	ok, err := q.client.SetNX(ctx, redisKeyPrefix+id, time.Now().UTC().Format(time.RFC3339Nano), q.maxHold).Result()
	if err != nil {
		return false, fmt.Errorf("quarantine acquire %s: %w", id, err)
	}
	return ok, nil
}

func (q *RedisQuarantine) Release(ctx context.Context, id string) {
	if err := q.client.PExpire(ctx, redisKeyPrefix+id, q.window).Err(); err != nil && q.log != nil {
		// the key still expires after maxHold
		q.log.Warn("quarantine release failed", "documentId", id, "error", err)
	}
}

// NewRedisClient builds a go-redis client from a redis:// or rediss:// URL.
func NewRedisClient(redisURL string, tlsInsecure bool) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if tlsInsecure {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}
