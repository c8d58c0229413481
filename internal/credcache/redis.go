package credcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AutoRouter/internal/models"
)

const (
	redisScanBatch = 500
	// DefaultRedisPrefix namespaces cache keys when no prefix is configured.
	DefaultRedisPrefix = "autorouter:auth"
)

// RedisCache shares verified keys across gateway replicas.
// Tokens are stored as SHA-256 digests so raw secrets never reach Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get loads and decodes the cached key.
func (c *RedisCache) Get(ctx context.Context, token string) (*models.ClientKey, bool, error) {
	if c == nil || c.client == nil || token == "" {
		return nil, false, nil
	}
	raw, errGet := c.client.Get(ctx, c.tokenKey(token)).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return nil, false, nil
	}
	if errGet != nil {
		return nil, false, errGet
	}
	var key models.ClientKey
	if errUnmarshal := json.Unmarshal(raw, &key); errUnmarshal != nil {
		_ = c.client.Del(ctx, c.tokenKey(token)).Err()
		return nil, false, nil
	}
	return &key, true, nil
}

// Set stores key and indexes the token digest under the key id.
func (c *RedisCache) Set(ctx context.Context, token string, key *models.ClientKey) error {
	if c == nil || c.client == nil || token == "" || key == nil {
		return nil
	}
	payload, errMarshal := json.Marshal(key)
	if errMarshal != nil {
		return errMarshal
	}
	tokenKey := c.tokenKey(token)
	idKey := c.idKey(key.ID)
	_, errPipe := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey, payload, c.ttl)
		pipe.SAdd(ctx, idKey, tokenKey)
		pipe.Expire(ctx, idKey, c.ttl)
		return nil
	})
	return errPipe
}

// Delete removes token.
func (c *RedisCache) Delete(ctx context.Context, token string) error {
	if c == nil || c.client == nil || token == "" {
		return nil
	}
	return c.client.Del(ctx, c.tokenKey(token)).Err()
}

// DeleteKeyID removes every token indexed under id.
func (c *RedisCache) DeleteKeyID(ctx context.Context, id uint64) error {
	if c == nil || c.client == nil {
		return nil
	}
	idKey := c.idKey(id)
	members, errMembers := c.client.SMembers(ctx, idKey).Result()
	if errMembers != nil && !errors.Is(errMembers, redis.Nil) {
		return errMembers
	}
	keys := append(members, idKey)
	return c.client.Del(ctx, keys...).Err()
}

// Clear removes every key under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := c.buildKey("*")
	var cursor uint64
	for {
		keys, next, errScan := c.client.Scan(ctx, cursor, pattern, redisScanBatch).Result()
		if errScan != nil {
			return errScan
		}
		if len(keys) > 0 {
			if errDel := c.client.Del(ctx, keys...).Err(); errDel != nil {
				return errDel
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.buildKey("token:" + hex.EncodeToString(sum[:]))
}

func (c *RedisCache) idKey(id uint64) string {
	return c.buildKey("key:" + strconv.FormatUint(id, 10))
}

func (c *RedisCache) buildKey(key string) string {
	return c.prefix + ":" + key
}
