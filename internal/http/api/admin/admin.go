package admin

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/apikeys"
	"github.com/router-for-me/AutoRouter/internal/config"
	handlers "github.com/router-for-me/AutoRouter/internal/http/api/admin/handlers"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"github.com/router-for-me/AutoRouter/internal/security"
	"github.com/router-for-me/AutoRouter/internal/store"
)

// Deps are the collaborators the admin routes need.
type Deps struct {
	Store                 *store.GormStore
	Keys                  *apikeys.Service
	Cipher                handlers.SecretCipher
	Reloader              handlers.RegistryReloader
	Registry              *registry.Holder
	Flusher               handlers.CacheFlusher
	AdminToken            string
	JWT                   config.JWTConfig
	DefaultTimeoutSeconds int
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Store == nil {
		return
	}

	systemHandler := handlers.NewSystemHandler(deps.Store.DB(), deps.Registry, deps.Flusher)
	r.GET("/healthz", systemHandler.Healthz)

	adminGroup := r.Group("/admin")

	authHandler := handlers.NewAuthHandler(deps.AdminToken, deps.JWT)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.AdminToken, deps.JWT))

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.Keys, deps.Store)
	authed.POST("/keys", apiKeyHandler.Create)
	authed.GET("/keys", apiKeyHandler.List)
	authed.GET("/keys/:id/reveal", apiKeyHandler.Reveal)
	authed.POST("/keys/:id/revoke", apiKeyHandler.Revoke)
	authed.DELETE("/keys/:id", apiKeyHandler.Delete)
	authed.POST("/cache/flush", systemHandler.FlushCache)

	upstreamHandler := handlers.NewUpstreamHandler(deps.Store, deps.Cipher, deps.Reloader, deps.DefaultTimeoutSeconds)
	authed.POST("/upstreams", upstreamHandler.Create)
	authed.GET("/upstreams", upstreamHandler.List)
	authed.PUT("/upstreams/:id", upstreamHandler.Update)
	authed.DELETE("/upstreams/:id", upstreamHandler.Delete)

	logsHandler := handlers.NewRequestLogHandler(deps.Store)
	authed.GET("/logs", logsHandler.List)

	statsHandler := handlers.NewStatsHandler(deps.Store)
	authed.GET("/stats/overview", statsHandler.Overview)
	authed.GET("/stats/timeseries", statsHandler.Timeseries)
	authed.GET("/stats/leaderboard", statsHandler.Leaderboard)
}

// adminAuthMiddleware accepts the configured admin token or an admin JWT.
// Every failure is reported as forbidden.
func adminAuthMiddleware(adminToken string, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			bearer := strings.TrimPrefix(authHeader, "Bearer ")
			if bearer != authHeader {
				token = strings.TrimSpace(bearer)
			}
		}
		if token == "" {
			apierr.Abort(c, apierr.KindForbidden, "admin authentication required", nil)
			return
		}

		if handlers.MatchAdminToken(adminToken, token) {
			c.Set("adminVia", "token")
			c.Next()
			return
		}
		if strings.TrimSpace(jwtCfg.Secret) != "" {
			if _, errJWT := security.ParseAdminToken(jwtCfg.Secret, token); errJWT == nil {
				c.Set("adminVia", "jwt")
				c.Next()
				return
			}
		}
		apierr.Abort(c, apierr.KindForbidden, "invalid admin credentials", nil)
	}
}
