package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/apikeys"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/store"
)

// APIKeyHandler manages admin client key endpoints.
type APIKeyHandler struct {
	service *apikeys.Service
	store   *store.GormStore
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(service *apikeys.Service, st *store.GormStore) *APIKeyHandler {
	return &APIKeyHandler{service: service, store: st}
}

// createAPIKeyRequest is the payload for issuing a key.
type createAPIKeyRequest struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	UpstreamIDs []uint64   `json:"upstream_ids"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// apiKeyListQuery defines filters for the key list view.
type apiKeyListQuery struct {
	pageQuery
	Keyword string `form:"keyword"`
	Active  *bool  `form:"active"`
}

// Create issues a new client key. The plaintext is returned once.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid json", nil)
		return
	}
	created, errCreate := h.service.Create(c.Request.Context(), apikeys.CreateInput{
		Name:        body.Name,
		Description: body.Description,
		UpstreamIDs: body.UpstreamIDs,
		ExpiresAt:   body.ExpiresAt,
	})
	if errCreate != nil {
		writeError(c, errCreate, "create api key")
		return
	}
	out := formatAPIKey(&created.Key)
	out["key"] = created.Token
	c.JSON(http.StatusCreated, out)
}

// List returns a page of keys. Only prefixes are shown.
func (h *APIKeyHandler) List(c *gin.Context) {
	var q apiKeyListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid query", nil)
		return
	}
	page := q.toPage()
	keys, total, errList := h.store.ListClientKeys(c.Request.Context(), store.ClientKeyFilter{
		Page:    page,
		Keyword: strings.TrimSpace(q.Keyword),
		Active:  q.Active,
	})
	if errList != nil {
		writeError(c, errList, "list api keys")
		return
	}
	out := make([]gin.H, 0, len(keys))
	for i := range keys {
		out = append(out, formatAPIKey(&keys[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"api_keys":  out,
		"total":     total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

// Reveal returns the decrypted key.
func (h *APIKeyHandler) Reveal(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	key, token, errReveal := h.service.Reveal(c.Request.Context(), id)
	if errors.Is(errReveal, apikeys.ErrNotRevealable) {
		apierr.Write(c, apierr.KindInvalidRequest, "key cannot be revealed", nil)
		return
	}
	if errReveal != nil {
		writeError(c, errReveal, "reveal api key")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"key_prefix": key.KeyPrefix,
		"key":        token,
	})
}

// Revoke deactivates a key.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if errRevoke := h.service.Revoke(c.Request.Context(), id); errRevoke != nil {
		writeError(c, errRevoke, "revoke api key")
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes a key and its authorizations.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if errDelete := h.service.Delete(c.Request.Context(), id); errDelete != nil {
		writeError(c, errDelete, "delete api key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func formatAPIKey(key *models.ClientKey) gin.H {
	if key == nil {
		return gin.H{}
	}
	return gin.H{
		"id":           key.ID,
		"name":         key.Name,
		"description":  key.Description,
		"key_prefix":   key.KeyPrefix,
		"upstream_ids": key.UpstreamIDs(),
		"active":       key.Active,
		"expires_at":   key.ExpiresAt,
		"created_at":   key.CreatedAt,
		"updated_at":   key.UpdatedAt,
	}
}
