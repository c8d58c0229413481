package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/store"
)

// StatsHandler serves dashboard aggregates over the request log.
type StatsHandler struct {
	store *store.GormStore
	now   func() time.Time
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(st *store.GormStore) *StatsHandler {
	return &StatsHandler{store: st, now: time.Now}
}

// Overview returns today's request count, latency, tokens, and success rate.
func (h *StatsHandler) Overview(c *gin.Context) {
	overview, errStats := h.store.StatsOverview(c.Request.Context(), h.now())
	if errStats != nil {
		writeError(c, errStats, "stats overview")
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Timeseries returns per-upstream buckets for the requested range.
func (h *StatsHandler) Timeseries(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	series, errStats := h.store.StatsTimeseries(c.Request.Context(), rng, h.now())
	if errStats != nil {
		writeError(c, errStats, "stats timeseries")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"range":       rng,
		"granularity": rng.Granularity(),
		"series":      series,
	})
}

// Leaderboard returns the top keys, upstreams, and models for the requested range.
func (h *StatsHandler) Leaderboard(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			apierr.Write(c, apierr.KindInvalidRequest, "invalid limit", nil)
			return
		}
		limit = parsed
	}
	board, errStats := h.store.StatsLeaderboard(c.Request.Context(), rng, limit, h.now())
	if errStats != nil {
		writeError(c, errStats, "stats leaderboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"range":     rng,
		"api_keys":  board.APIKeys,
		"upstreams": board.Upstreams,
		"models":    board.Models,
	})
}

func parseRange(c *gin.Context) (store.StatsRange, bool) {
	rng, errRange := store.ParseStatsRange(c.Query("range"))
	if errRange != nil {
		apierr.Write(c, apierr.KindInvalidRequest, errRange.Error(), nil)
		return "", false
	}
	return rng, true
}
