package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/store"
)

// RequestLogHandler serves the request audit log.
type RequestLogHandler struct {
	store *store.GormStore
}

// NewRequestLogHandler constructs a RequestLogHandler.
func NewRequestLogHandler(st *store.GormStore) *RequestLogHandler {
	return &RequestLogHandler{store: st}
}

// List returns request logs, newest first, filtered by api_key_id, upstream_id, and status_code.
func (h *RequestLogHandler) List(c *gin.Context) {
	var q pageQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid query", nil)
		return
	}
	keyID, ok := parseOptionalUint(c, "api_key_id")
	if !ok {
		return
	}
	upstreamID, ok := parseOptionalUint(c, "upstream_id")
	if !ok {
		return
	}
	var statusCode *int
	if raw := strings.TrimSpace(c.Query("status_code")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			apierr.Write(c, apierr.KindInvalidRequest, "invalid status_code", nil)
			return
		}
		statusCode = &parsed
	}

	page := q.toPage()
	rows, total, errList := h.store.ListRequestLogs(c.Request.Context(), store.RequestLogFilter{
		Page:        page,
		ClientKeyID: keyID,
		UpstreamID:  upstreamID,
		StatusCode:  statusCode,
	})
	if errList != nil {
		writeError(c, errList, "list request logs")
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatRequestLog(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":      out,
		"total":     total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

func formatRequestLog(row *models.RequestLog) gin.H {
	return gin.H{
		"id":                row.ID,
		"api_key_id":        row.ClientKeyID,
		"upstream_id":       row.UpstreamID,
		"method":            row.Method,
		"path":              row.Path,
		"model":             row.Model,
		"prompt_tokens":     row.PromptTokens,
		"completion_tokens": row.CompletionTokens,
		"total_tokens":      row.TotalTokens,
		"status_code":       row.StatusCode,
		"duration_ms":       row.DurationMs,
		"error_message":     row.ErrorMessage,
		"created_at":        row.CreatedAt,
	}
}
