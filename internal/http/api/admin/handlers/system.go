package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"gorm.io/gorm"
)

const healthPingTimeout = 2 * time.Second

// CacheFlusher drops every cached verification.
type CacheFlusher interface {
	InvalidateAll(ctx context.Context) error
}

// SystemHandler serves health and cache maintenance endpoints.
type SystemHandler struct {
	db      *gorm.DB
	holder  *registry.Holder
	flusher CacheFlusher
}

// NewSystemHandler constructs a SystemHandler.
func NewSystemHandler(db *gorm.DB, holder *registry.Holder, flusher CacheFlusher) *SystemHandler {
	return &SystemHandler{db: db, holder: holder, flusher: flusher}
}

// Healthz reports database reachability and the number of loaded upstreams.
func (h *SystemHandler) Healthz(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		sqlDB, errDB := h.db.DB()
		if errDB != nil || sqlDB.PingContext(ctx) != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "upstreams": h.holder.Load().Len()})
}

// FlushCache clears the verification cache.
func (h *SystemHandler) FlushCache(c *gin.Context) {
	if h.flusher == nil {
		c.JSON(http.StatusOK, gin.H{"flushed": false})
		return
	}
	if errFlush := h.flusher.InvalidateAll(c.Request.Context()); errFlush != nil {
		writeError(c, errFlush, "flush cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true})
}

// NotFound answers unknown routes with the error envelope.
func NotFound(c *gin.Context) {
	apierr.Write(c, apierr.KindNotFound, "route not found", nil)
}
