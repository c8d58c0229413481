package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reloader rebuilds the published registry from the store after upstream changes.
type Reloader struct {
	mu             sync.Mutex
	src            Source
	cipher         SecretCipher
	holder         *Holder
	defaultTimeout time.Duration
}

// NewReloader constructs a Reloader publishing into holder.
func NewReloader(src Source, cipher SecretCipher, holder *Holder, defaultTimeout time.Duration) *Reloader {
	return &Reloader{src: src, cipher: cipher, holder: holder, defaultTimeout: defaultTimeout}
}

// Reload builds a fresh registry from active upstreams and publishes it.
// An empty store publishes nil. On failure the previous registry stays in place.
func (r *Reloader) Reload(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	result, errBootstrap := Bootstrap(ctx, r.src, r.cipher, nil, r.defaultTimeout)
	if errors.Is(errBootstrap, ErrEmpty) {
		r.holder.Store(nil)
		log.Warn("registry reloaded with no active upstreams")
		return nil
	}
	if errBootstrap != nil {
		return errBootstrap
	}
	r.holder.Store(result.Registry)
	log.WithField("upstreams", result.Registry.Len()).Info("registry reloaded")
	return nil
}
