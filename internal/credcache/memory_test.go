package credcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(time.Minute, 10, WithClock(clock.Now))

	if err := cache.Set(ctx, "sk-auto-a", &models.ClientKey{ID: 1, Name: "a"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(59 * time.Second)
	got, ok, err := cache.Get(ctx, "sk-auto-a")
	if err != nil || !ok || got.ID != 1 {
		t.Fatalf("expected hit before ttl, got %v %v %v", got, ok, err)
	}

	clock.Advance(time.Second)
	if _, ok, _ := cache.Get(ctx, "sk-auto-a"); ok {
		t.Fatalf("expected miss at ttl")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be swept on access")
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute, 10)
	key := &models.ClientKey{ID: 1, Name: "original"}
	_ = cache.Set(ctx, "tok", key)
	key.Name = "mutated"

	got, _, _ := cache.Get(ctx, "tok")
	if got.Name != "original" {
		t.Fatalf("cache should hold its own copy, got %q", got.Name)
	}
	got.Name = "changed"
	again, _, _ := cache.Get(ctx, "tok")
	if again.Name != "original" {
		t.Fatalf("callers should not mutate cached entries")
	}
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute, 2)
	_ = cache.Set(ctx, "a", &models.ClientKey{ID: 1})
	_ = cache.Set(ctx, "b", &models.ClientKey{ID: 2})
	_ = cache.Set(ctx, "c", &models.ClientKey{ID: 3})

	if _, ok, _ := cache.Get(ctx, "a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	for _, token := range []string{"b", "c"} {
		if _, ok, _ := cache.Get(ctx, token); !ok {
			t.Fatalf("expected %s to remain", token)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.Len())
	}
}

func TestMemoryCache_Invalidation(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute, 10)
	_ = cache.Set(ctx, "a1", &models.ClientKey{ID: 1})
	_ = cache.Set(ctx, "a2", &models.ClientKey{ID: 1})
	_ = cache.Set(ctx, "b", &models.ClientKey{ID: 2})

	_ = cache.Delete(ctx, "b")
	if _, ok, _ := cache.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be deleted")
	}

	_ = cache.DeleteKeyID(ctx, 1)
	if cache.Len() != 0 {
		t.Fatalf("expected all tokens for id 1 to be removed, %d left", cache.Len())
	}

	_ = cache.Set(ctx, "c", &models.ClientKey{ID: 3})
	_ = cache.Clear(ctx)
	if _, ok, _ := cache.Get(ctx, "c"); ok {
		t.Fatalf("expected clear to drop entries")
	}
}

func TestMemoryCache_KeyIDIndexFollowsEntries(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := NewMemoryCache(time.Minute, 3, WithClock(clock.Now))
	_ = cache.Set(ctx, "a1", &models.ClientKey{ID: 1})
	_ = cache.Set(ctx, "a2", &models.ClientKey{ID: 1})
	_ = cache.Set(ctx, "b", &models.ClientKey{ID: 2})

	// Capacity eviction drops a1 from the index.
	_ = cache.Set(ctx, "c", &models.ClientKey{ID: 3})
	if _, ok := cache.byKeyID[1]["a1"]; ok {
		t.Fatalf("evicted token still indexed: %v", cache.byKeyID)
	}

	// Re-keying a token moves it between ids.
	_ = cache.Set(ctx, "b", &models.ClientKey{ID: 1})
	if _, ok := cache.byKeyID[2]; ok {
		t.Fatalf("stale id 2 left in index: %v", cache.byKeyID)
	}
	if len(cache.byKeyID[1]) != 2 {
		t.Fatalf("expected two tokens for id 1, got %v", cache.byKeyID[1])
	}

	_ = cache.DeleteKeyID(ctx, 1)
	if cache.Len() != 1 || len(cache.byKeyID) != 1 {
		t.Fatalf("expected only c to remain, len=%d index=%v", cache.Len(), cache.byKeyID)
	}
	if _, ok, _ := cache.Get(ctx, "c"); !ok {
		t.Fatalf("unrelated key id removed")
	}

	// Expiry on read unindexes too.
	clock.Advance(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "c"); ok {
		t.Fatalf("expected c to expire")
	}
	if len(cache.byKeyID) != 0 {
		t.Fatalf("expired token still indexed: %v", cache.byKeyID)
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute, 50)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				token := string(rune('a' + (n+j)%26))
				_ = cache.Set(ctx, token, &models.ClientKey{ID: uint64(j)})
				_, _, _ = cache.Get(ctx, token)
				if j%50 == 0 {
					_ = cache.DeleteKeyID(ctx, uint64(j))
				}
			}
		}(i)
	}
	wg.Wait()
	if cache.Len() > 50 {
		t.Fatalf("cache exceeded bound: %d", cache.Len())
	}
}
