// Package watcher keeps in-memory state in step with database changes made by
// other gateway instances sharing the same store.
package watcher

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultQueryTimeout = 5 * time.Second

// Source reports change digests for the watched tables.
type Source interface {
	UpstreamRevision(ctx context.Context) (string, error)
	ClientKeyRevision(ctx context.Context) (string, error)
}

// RegistryReloader rebuilds the upstream registry.
type RegistryReloader interface {
	Reload(ctx context.Context) error
}

// CacheInvalidator drops every cached key verification.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Watcher polls the store and reacts when upstreams or client keys change.
type Watcher struct {
	src          Source
	reloader     RegistryReloader
	cache        CacheInvalidator
	pollInterval time.Duration

	mu           sync.Mutex
	upstreamHash string
	keyHash      string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Watcher. A non-positive interval disables polling.
func New(src Source, reloader RegistryReloader, cache CacheInvalidator, interval time.Duration) *Watcher {
	return &Watcher{src: src, reloader: reloader, cache: cache, pollInterval: interval}
}

// Start records the current revisions and launches the polling loop.
func (w *Watcher) Start(ctx context.Context) {
	if w == nil || w.src == nil || w.pollInterval <= 0 {
		return
	}
	w.poll(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	log.Infof("db watcher started (poll_interval=%s)", w.pollInterval)
}

// Stop cancels the polling loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll compares revisions with the previous round. The first round only
// records the baseline.
func (w *Watcher) poll(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pollUpstreams(ctx)
	w.pollClientKeys(ctx)
}

func (w *Watcher) pollUpstreams(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	hash, errRevision := w.src.UpstreamRevision(qctx)
	if errRevision != nil {
		log.WithError(errRevision).Warn("db watcher: upstream revision failed")
		return
	}
	prev := w.upstreamHash
	if prev == hash {
		return
	}
	if prev != "" && w.reloader != nil {
		if errReload := w.reloader.Reload(ctx); errReload != nil {
			log.WithError(errReload).Warn("db watcher: registry reload failed")
			return
		}
		log.Info("db watcher: upstreams changed, registry reloaded")
	}
	w.upstreamHash = hash
}

func (w *Watcher) pollClientKeys(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	hash, errRevision := w.src.ClientKeyRevision(qctx)
	if errRevision != nil {
		log.WithError(errRevision).Warn("db watcher: client key revision failed")
		return
	}
	prev := w.keyHash
	if prev == hash {
		return
	}
	if prev != "" && w.cache != nil {
		if errFlush := w.cache.InvalidateAll(ctx); errFlush != nil {
			log.WithError(errFlush).Warn("db watcher: cache flush failed")
			return
		}
		log.Info("db watcher: client keys changed, verification cache flushed")
	}
	w.keyHash = hash
}
