package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/AutoRouter/internal/credcache"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/security"
	log "github.com/sirupsen/logrus"
)

// CandidateStore returns the active keys sharing a plaintext prefix.
type CandidateStore interface {
	CandidatesByPrefix(ctx context.Context, prefix string) ([]models.ClientKey, error)
}

// CompareFunc checks a presented token against a stored hash.
type CompareFunc func(hash, token string) bool

// Verifier resolves bearer tokens to client keys.
type Verifier struct {
	store   CandidateStore
	cache   credcache.Cache
	compare CompareFunc
	now     func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithCompare overrides the hash comparison.
func WithCompare(fn CompareFunc) Option {
	return func(v *Verifier) {
		if fn != nil {
			v.compare = fn
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a Verifier. A nil cache disables caching.
func NewVerifier(store CandidateStore, cache credcache.Cache, opts ...Option) *Verifier {
	v := &Verifier{
		store:   store,
		cache:   cache,
		compare: security.CompareAPIKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", newError(KindMissing, "missing api key")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", newError(KindMalformed, "authorization header must use the Bearer scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", newError(KindMalformed, "empty bearer token")
	}
	return token, nil
}

// Verify authenticates an Authorization header value.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*models.ClientKey, error) {
	token, errParse := ParseBearer(authorization)
	if errParse != nil {
		return nil, errParse
	}
	return v.VerifyToken(ctx, token)
}

// VerifyToken authenticates a raw token.
// Returned errors are *Error for authentication failures; anything else is a store failure.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*models.ClientKey, error) {
	if token == "" {
		return nil, newError(KindMissing, "missing api key")
	}
	now := v.now()

	if key := v.cached(ctx, token, now); key != nil {
		return key, nil
	}

	candidates, errCandidates := v.store.CandidatesByPrefix(ctx, security.KeyPrefix(token))
	if errCandidates != nil {
		return nil, fmt.Errorf("access: load candidates: %w", errCandidates)
	}

	var matched *models.ClientKey
	for i := range candidates {
		if v.compare(candidates[i].KeyHash, token) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return nil, newError(KindInvalid, "invalid api key")
	}
	if matched.ExpiredAt(now) {
		return nil, newError(KindExpired, "api key has expired")
	}

	cached := *matched
	cached.KeyHash = ""
	cached.KeyValueEncrypted = ""
	if v.cache != nil {
		if errSet := v.cache.Set(ctx, token, &cached); errSet != nil {
			log.WithError(errSet).Warn("access: cache set failed")
		}
	}
	return &cached, nil
}

// cached returns a still-usable cached key, evicting stale entries.
func (v *Verifier) cached(ctx context.Context, token string, now time.Time) *models.ClientKey {
	if v.cache == nil {
		return nil
	}
	key, ok, errGet := v.cache.Get(ctx, token)
	if errGet != nil {
		log.WithError(errGet).Warn("access: cache lookup failed")
		return nil
	}
	if !ok || key == nil {
		return nil
	}
	if key.UsableAt(now) {
		return key
	}
	if errDel := v.cache.Delete(ctx, token); errDel != nil {
		log.WithError(errDel).Warn("access: cache evict failed")
	}
	return nil
}

// Invalidate drops a raw token from the cache.
func (v *Verifier) Invalidate(ctx context.Context, token string) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Delete(ctx, token)
}

// InvalidateKeyID drops every cached token that resolved to key id.
func (v *Verifier) InvalidateKeyID(ctx context.Context, id uint64) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.DeleteKeyID(ctx, id)
}

// InvalidateAll drops the whole cache.
func (v *Verifier) InvalidateAll(ctx context.Context) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Clear(ctx)
}
