package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"achievement_engine/platform/logger"
)

func newRedisQuarantine(t *testing.T) (*RedisQuarantine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQuarantine(client, 500*time.Millisecond, time.Minute, logger.Nop()), mr
}

func TestRedisQuarantineWindow(t *testing.T) {
	q, mr := newRedisQuarantine(t)
	ctx := context.Background()

	ok, err := q.Acquire(ctx, "doc")
	if err != nil || !ok {
		t.Fatalf("expected first acquire, got %v %v", ok, err)
	}
	if ok, _ := q.Acquire(ctx, "doc"); ok {
		t.Fatalf("expected second acquire to fail")
	}
	if ttl := mr.TTL(redisKeyPrefix + "doc"); ttl != time.Minute {
		t.Fatalf("expected maxHold ttl, got %s", ttl)
	}

	q.Release(ctx, "doc")
	if ok, _ := q.Acquire(ctx, "doc"); ok {
		t.Fatalf("expected id held during cooldown")
	}

	mr.FastForward(600 * time.Millisecond)
	if ok, _ := q.Acquire(ctx, "doc"); !ok {
		t.Fatalf("expected id free after the window")
	}
}

func TestRedisQuarantineMaxHold(t *testing.T) {
	q, mr := newRedisQuarantine(t)
	ctx := context.Background()

	_, _ = q.Acquire(ctx, "stuck")
	mr.FastForward(time.Minute + time.Second)
	if ok, _ := q.Acquire(ctx, "stuck"); !ok {
		t.Fatalf("expected unreleased id to expire after maxHold")
	}
}

func TestRedisQuarantineUnavailable(t *testing.T) {
	q, mr := newRedisQuarantine(t)
	mr.Close()

	if _, err := q.Acquire(context.Background(), "doc"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
