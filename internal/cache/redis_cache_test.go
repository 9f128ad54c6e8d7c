package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, "test:"), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var miss []string
	if hit, err := c.GetJSON(ctx, "k", &miss); hit || err != nil {
		t.Fatalf("GetJSON on empty cache = (%v, %v)", hit, err)
	}

	if err := c.SetJSON(ctx, "k", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatal("expected prefixed key in redis")
	}

	var got []string
	if hit, err := c.GetJSON(ctx, "k", &got); !hit || err != nil || len(got) != 2 {
		t.Fatalf("GetJSON = (%v, %v, %v)", hit, err, got)
	}

	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("test:k") {
		t.Fatal("key survived Del")
	}
}

func TestRedisCacheCorruptValueIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	_ = mr.Set("test:bad", "{not json")

	var dst map[string]any
	hit, err := c.GetJSON(context.Background(), "bad", &dst)
	if hit || err != nil {
		t.Fatalf("GetJSON = (%v, %v), want miss", hit, err)
	}
	if mr.Exists("test:bad") {
		t.Fatal("corrupt key should be deleted")
	}
}
