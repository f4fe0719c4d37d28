package pagecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-url", time.Minute); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestGetMissThenHit(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	_, version, hit, err := cache.Get(ctx, 7, "news:user_a")
	if err != nil || hit {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}
	if err := cache.Set(ctx, 7, "news:user_a", version, []byte(`{"news":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	payload, _, hit, err := cache.Get(ctx, 7, "news:user_a")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if string(payload) != `{"news":[]}` {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestContentChangedInvalidatesSessionOnly(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, sessionID := range []int64{1, 2} {
		_, version, _, _ := cache.Get(ctx, sessionID, "topics:v")
		if err := cache.Set(ctx, sessionID, "topics:v", version, []byte("cached")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := cache.ContentChanged(ctx, 1); err != nil {
		t.Fatalf("ContentChanged failed: %v", err)
	}

	if _, _, hit, _ := cache.Get(ctx, 1, "topics:v"); hit {
		t.Fatal("expected session 1 view to be invalidated")
	}
	if _, _, hit, _ := cache.Get(ctx, 2, "topics:v"); !hit {
		t.Fatal("expected session 2 view to survive")
	}
}

func TestStaleWriteAfterChangeIsNeverServed(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	_, version, _, _ := cache.Get(ctx, 3, "evidence:v")
	if err := cache.ContentChanged(ctx, 3); err != nil {
		t.Fatalf("ContentChanged failed: %v", err)
	}
	// The reader finishes after the mutation and stores under the old version.
	if err := cache.Set(ctx, 3, "evidence:v", version, []byte("stale")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, _, hit, _ := cache.Get(ctx, 3, "evidence:v"); hit {
		t.Fatal("expected stale view to be ignored")
	}
}

func TestCachedViewExpires(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Set(ctx, 4, "news:v", 0, []byte("cached")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, _, hit, _ := cache.Get(ctx, 4, "news:v"); hit {
		t.Fatal("expected view to expire")
	}
}

func TestContentChangedPublishesSessionID(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()

	subscriber := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer subscriber.Close()
	sub := subscriber.Subscribe(ctx, ChangesChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := cache.ContentChanged(ctx, 42); err != nil {
		t.Fatalf("ContentChanged failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "42" {
			t.Fatalf("expected payload 42, got %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change message")
	}
}

func TestNopAlwaysMisses(t *testing.T) {
	var cache Cache = Nop{}
	ctx := context.Background()
	if err := cache.Set(ctx, 1, "v", 0, []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, _, hit, _ := cache.Get(ctx, 1, "v"); hit {
		t.Fatal("expected Nop to miss")
	}
}
