package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AutoRouter/internal/access"
	"github.com/router-for-me/AutoRouter/internal/apikeys"
	"github.com/router-for-me/AutoRouter/internal/config"
	"github.com/router-for-me/AutoRouter/internal/credcache"
	"github.com/router-for-me/AutoRouter/internal/db"
	"github.com/router-for-me/AutoRouter/internal/http/api/admin"
	"github.com/router-for-me/AutoRouter/internal/http/api/admin/handlers"
	proxyapi "github.com/router-for-me/AutoRouter/internal/http/api/proxy"
	"github.com/router-for-me/AutoRouter/internal/logging"
	"github.com/router-for-me/AutoRouter/internal/metrics"
	relay "github.com/router-for-me/AutoRouter/internal/proxy"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"github.com/router-for-me/AutoRouter/internal/security"
	"github.com/router-for-me/AutoRouter/internal/store"
	"github.com/router-for-me/AutoRouter/internal/usage"
	"github.com/router-for-me/AutoRouter/internal/watcher"
	log "github.com/sirupsen/logrus"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	redisPingTimeout  = 3 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the gateway and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	logCloser, errLogging := logging.Setup(cfg.Logging)
	if errLogging != nil {
		return errLogging
	}
	defer func() { _ = logCloser.Close() }()

	// A gateway that cannot decrypt upstream secrets must not start.
	cipher, errCipher := security.LoadCipher(cfg.Encryption.Key, cfg.Encryption.KeyFile)
	if errCipher != nil {
		return fmt.Errorf("load encryption key: %w", errCipher)
	}

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("database ready (%s)", describeDSN(cfg.DatabaseDSN))

	st := store.NewGormStore(conn)

	cache, closeCache, errCache := buildCache(ctx, cfg)
	if errCache != nil {
		return errCache
	}
	defer closeCache()
	verifier := access.NewVerifier(st, cache)

	holder, errRegistry := bootstrapRegistry(ctx, cfg, st, cipher)
	if errRegistry != nil {
		return errRegistry
	}

	engine := relay.NewEngine(nil)
	defer engine.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	jwtCfg := cfg.JWT
	if jwtCfg.Secret == "" {
		jwtCfg.Secret = generateJWTSecret()
		log.Warn("jwt.secret not set, admin sessions will not survive a restart")
	}
	if cfg.AdminToken == "" {
		log.Warn("admin-token not set, the admin API is disabled")
	}

	reloader := registry.NewReloader(st, cipher, holder, cfg.DefaultUpstreamTimeout())
	dbWatcher := watcher.New(st, reloader, verifier, cfg.Sync.PollInterval)
	dbWatcher.Start(ctx)
	defer dbWatcher.Stop()

	router := gin.New()
	router.Use(gin.Recovery(), accessLogMiddleware())

	admin.RegisterAdminRoutes(router, admin.Deps{
		Store:                 st,
		Keys:                  apikeys.NewService(st, cipher, verifier),
		Cipher:                cipher,
		Reloader:              reloader,
		Registry:              holder,
		Flusher:               verifier,
		AdminToken:            cfg.AdminToken,
		JWT:                   jwtCfg,
		DefaultTimeoutSeconds: cfg.Proxy.DefaultTimeoutSeconds,
	})

	proxyHandler := proxyapi.NewHandler(holder, verifier, engine, usage.NewGormRecorder(conn), proxyapi.Options{
		Prefix:         cfg.Proxy.Prefix,
		UpstreamHeader: cfg.Proxy.UpstreamHeader,
		Metrics:        collector,
		MaxBodyBytes:   cfg.Proxy.MaxBodyBytes,
	})
	proxyapi.RegisterProxyRoutes(router, proxyHandler)

	if collector != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(collector.Handler()))
	}
	router.NoRoute(handlers.NotFound)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Infof("autorouter listening on %s (proxy prefix %s)", srv.Addr, cfg.Proxy.Prefix)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen := <-errServe:
		return errListen
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.Errorf("server shutdown error: %v", errShutdown)
		return errShutdown
	}
	return nil
}

// buildCache selects the verification cache. The returned func releases it.
func buildCache(ctx context.Context, cfg *config.Config) (credcache.Cache, func(), error) {
	redisCfg := cfg.Auth.Cache.Redis
	if !redisCfg.Enabled {
		return credcache.NewMemoryCache(cfg.Auth.CacheTTL, cfg.Auth.CacheMaxEntries), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", redisCfg.Addr, errPing)
	}
	log.Infof("verification cache: redis at %s", redisCfg.Addr)
	return credcache.NewRedisCache(client, redisCfg.Prefix, cfg.Auth.CacheTTL), func() { _ = client.Close() }, nil
}

// bootstrapRegistry runs the startup sequence and publishes the registry.
// An empty store with no seeds starts the gateway without upstreams.
func bootstrapRegistry(ctx context.Context, cfg *config.Config, st *store.GormStore, cipher *security.Cipher) (*registry.Holder, error) {
	seeds := make([]registry.Seed, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		seeds = append(seeds, registry.Seed{
			Name:           u.Name,
			Provider:       u.Provider,
			BaseURL:        u.BaseURL,
			APIKey:         u.APIKey,
			IsDefault:      u.IsDefault,
			TimeoutSeconds: u.Timeout,
		})
	}

	result, errBootstrap := registry.Bootstrap(ctx, st, cipher, seeds, cfg.DefaultUpstreamTimeout())
	if errors.Is(errBootstrap, registry.ErrEmpty) {
		log.Warn("no upstreams configured, proxy requests will be rejected until one is added")
		return registry.NewHolder(nil), nil
	}
	if errBootstrap != nil {
		return nil, fmt.Errorf("build upstream registry: %w", errBootstrap)
	}
	log.WithFields(log.Fields{
		"states":    result.States,
		"imported":  result.Imported,
		"upstreams": result.Registry.Names(),
		"default":   result.Registry.Default().Name,
	}).Info("upstream registry ready")
	return registry.NewHolder(result.Registry), nil
}

// accessLogMiddleware logs one line per request.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"duration": time.Since(start).Round(time.Millisecond).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request completed")
			return
		}
		entry.Debug("request completed")
	}
}
