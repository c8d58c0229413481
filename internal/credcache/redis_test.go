package credcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AutoRouter/internal/models"
)

func TestRedisCache_KeysNeverContainToken(t *testing.T) {
	cache := NewRedisCache(nil, "", time.Minute)
	key := cache.tokenKey("sk-auto-super-secret")
	if strings.Contains(key, "sk-auto-super-secret") {
		t.Fatalf("raw token leaked into redis key %q", key)
	}
	if !strings.HasPrefix(key, DefaultRedisPrefix+":token:") {
		t.Fatalf("unexpected key layout %q", key)
	}
	if got := NewRedisCache(nil, "gw", time.Minute).idKey(42); got != "gw:key:42" {
		t.Fatalf("unexpected id key %q", got)
	}
}

func TestRedisCache_NilClientIsNoop(t *testing.T) {
	ctx := context.Background()
	cache := NewRedisCache(nil, "gw", time.Minute)
	if err := cache.Set(ctx, "tok", &models.ClientKey{ID: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := cache.Get(ctx, "tok"); ok || err != nil {
		t.Fatalf("expected miss without client, got %v %v", ok, err)
	}
}

func TestRedisCache_UnreachableServerReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisCache(client, "gw", time.Minute)
	if _, _, err := cache.Get(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
}
