package credcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

type memoryEntry struct {
	token     string
	key       models.ClientKey
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache with a fixed entry bound.
// Entries expire a fixed duration after insertion; when full the oldest insert is evicted.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]*list.Element
	byKeyID    map[uint64]map[string]struct{}
	order      *list.List
}

// MemoryOption customizes a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache constructs a MemoryCache. Non-positive arguments fall back to defaults.
func NewMemoryCache(ttl time.Duration, maxEntries int, opts ...MemoryOption) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		byKeyID:    make(map[uint64]map[string]struct{}),
		order:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached key.
func (c *MemoryCache) Get(_ context.Context, token string) (*models.ClientKey, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[token]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false, nil
	}
	key := entry.key
	return &key, true, nil
}

// Set stores a copy of key.
func (c *MemoryCache) Set(_ context.Context, token string, key *models.ClientKey) error {
	if token == "" || key == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.entries[token]; ok {
		entry := elem.Value.(*memoryEntry)
		if entry.key.ID != key.ID {
			c.unindex(entry)
		}
		entry.key = *key
		entry.expiresAt = expiresAt
		c.index(entry)
		c.order.MoveToBack(elem)
		return nil
	}
	for c.order.Len() >= c.maxEntries {
		c.removeElement(c.order.Front())
	}
	entry := &memoryEntry{token: token, key: *key, expiresAt: expiresAt}
	c.entries[token] = c.order.PushBack(entry)
	c.index(entry)
	return nil
}

// Delete removes token.
func (c *MemoryCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[token]; ok {
		c.removeElement(elem)
	}
	return nil
}

// DeleteKeyID removes every token cached for key id.
func (c *MemoryCache) DeleteKeyID(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for token := range c.byKeyID[id] {
		c.removeElement(c.entries[token])
	}
	return nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.byKeyID = make(map[uint64]map[string]struct{})
	c.order.Init()
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := c.order.Remove(elem).(*memoryEntry)
	delete(c.entries, entry.token)
	c.unindex(entry)
}

func (c *MemoryCache) index(entry *memoryEntry) {
	tokens, ok := c.byKeyID[entry.key.ID]
	if !ok {
		tokens = make(map[string]struct{})
		c.byKeyID[entry.key.ID] = tokens
	}
	tokens[entry.token] = struct{}{}
}

func (c *MemoryCache) unindex(entry *memoryEntry) {
	tokens, ok := c.byKeyID[entry.key.ID]
	if !ok {
		return
	}
	delete(tokens, entry.token)
	if len(tokens) == 0 {
		delete(c.byKeyID, entry.key.ID)
	}
}
