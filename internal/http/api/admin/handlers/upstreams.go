package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"github.com/router-for-me/AutoRouter/internal/security"
	"github.com/router-for-me/AutoRouter/internal/store"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
)

const (
	maxUpstreamNameLength = 64
	minUpstreamTimeout    = 1
	maxUpstreamTimeout    = 300
	maskErrorPlaceholder  = "***error***"
)

// SecretCipher seals upstream secrets.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// RegistryReloader republishes the upstream registry after a change.
type RegistryReloader interface {
	Reload(ctx context.Context) error
}

// UpstreamHandler manages admin CRUD for upstreams.
type UpstreamHandler struct {
	store          *store.GormStore
	cipher         SecretCipher
	reloader       RegistryReloader
	defaultTimeout int
}

// NewUpstreamHandler constructs an UpstreamHandler.
func NewUpstreamHandler(st *store.GormStore, cipher SecretCipher, reloader RegistryReloader, defaultTimeoutSeconds int) *UpstreamHandler {
	if defaultTimeoutSeconds <= 0 {
		defaultTimeoutSeconds = int(registry.DefaultTimeout.Seconds())
	}
	return &UpstreamHandler{store: st, cipher: cipher, reloader: reloader, defaultTimeout: defaultTimeoutSeconds}
}

// createUpstreamRequest captures the payload for creating an upstream.
type createUpstreamRequest struct {
	Name      string          `json:"name"`
	Provider  string          `json:"provider"`
	BaseURL   string          `json:"base_url"`
	APIKey    string          `json:"api_key"`
	IsDefault bool            `json:"is_default"`
	Timeout   *int            `json:"timeout"`
	Config    json.RawMessage `json:"config"`
}

// updateUpstreamRequest captures a partial upstream update.
type updateUpstreamRequest struct {
	Name      *string          `json:"name"`
	Provider  *string          `json:"provider"`
	BaseURL   *string          `json:"base_url"`
	APIKey    *string          `json:"api_key"`
	IsDefault *bool            `json:"is_default"`
	Timeout   *int             `json:"timeout"`
	Config    *json.RawMessage `json:"config"`
}

// Create adds an upstream and republishes the registry.
func (h *UpstreamHandler) Create(c *gin.Context) {
	var body createUpstreamRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid json", nil)
		return
	}

	name, errName := validateUpstreamName(body.Name)
	if errName != nil {
		writeError(c, errName, "create upstream")
		return
	}
	provider, errProvider := registry.ParseProvider(body.Provider)
	if errProvider != nil {
		apierr.Write(c, apierr.KindInvalidRequest, errProvider.Error(), nil)
		return
	}
	baseURL, errURL := registry.NormalizeBaseURL(body.BaseURL)
	if errURL != nil {
		apierr.Write(c, apierr.KindInvalidRequest, errURL.Error(), nil)
		return
	}
	secret := strings.TrimSpace(body.APIKey)
	if secret == "" {
		apierr.Write(c, apierr.KindInvalidRequest, "api_key is required", nil)
		return
	}
	timeout := h.defaultTimeout
	if body.Timeout != nil {
		timeout = *body.Timeout
	}
	if errTimeout := validateTimeout(timeout); errTimeout != nil {
		writeError(c, errTimeout, "create upstream")
		return
	}
	extra, errConfig := normalizeUpstreamConfig(body.Config)
	if errConfig != nil {
		writeError(c, errConfig, "create upstream")
		return
	}

	encrypted, errEncrypt := h.cipher.Encrypt(secret)
	if errEncrypt != nil {
		writeError(c, errEncrypt, "encrypt upstream secret")
		return
	}
	row := models.Upstream{
		Name:            name,
		Provider:        provider.String(),
		BaseURL:         baseURL,
		APIKeyEncrypted: encrypted,
		IsDefault:       body.IsDefault,
		Timeout:         timeout,
		Active:          true,
		Config:          extra,
	}
	if errCreate := h.store.CreateUpstream(c.Request.Context(), &row); errCreate != nil {
		writeError(c, errCreate, "create upstream")
		return
	}
	h.reload(c.Request.Context())
	c.JSON(http.StatusCreated, h.formatUpstream(&row))
}

// List returns upstreams with masked secrets.
func (h *UpstreamHandler) List(c *gin.Context) {
	includeInactive := strings.EqualFold(strings.TrimSpace(c.Query("include_inactive")), "true")
	rows, errList := h.store.ListUpstreams(c.Request.Context(), includeInactive)
	if errList != nil {
		writeError(c, errList, "list upstreams")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatUpstream(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"upstreams": out, "total": len(out)})
}

// Update patches an upstream and republishes the registry.
func (h *UpstreamHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body updateUpstreamRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid json", nil)
		return
	}

	updates := make(map[string]any)
	if body.Name != nil {
		name, errName := validateUpstreamName(*body.Name)
		if errName != nil {
			writeError(c, errName, "update upstream")
			return
		}
		updates["name"] = name
	}
	if body.Provider != nil {
		provider, errProvider := registry.ParseProvider(*body.Provider)
		if errProvider != nil {
			apierr.Write(c, apierr.KindInvalidRequest, errProvider.Error(), nil)
			return
		}
		updates["provider"] = provider.String()
	}
	if body.BaseURL != nil {
		baseURL, errURL := registry.NormalizeBaseURL(*body.BaseURL)
		if errURL != nil {
			apierr.Write(c, apierr.KindInvalidRequest, errURL.Error(), nil)
			return
		}
		updates["base_url"] = baseURL
	}
	if body.APIKey != nil {
		secret := strings.TrimSpace(*body.APIKey)
		if secret == "" {
			apierr.Write(c, apierr.KindInvalidRequest, "api_key must not be empty", nil)
			return
		}
		encrypted, errEncrypt := h.cipher.Encrypt(secret)
		if errEncrypt != nil {
			writeError(c, errEncrypt, "encrypt upstream secret")
			return
		}
		updates["api_key_encrypted"] = encrypted
	}
	if body.IsDefault != nil {
		updates["is_default"] = *body.IsDefault
	}
	if body.Timeout != nil {
		if errTimeout := validateTimeout(*body.Timeout); errTimeout != nil {
			writeError(c, errTimeout, "update upstream")
			return
		}
		updates["timeout"] = *body.Timeout
	}
	if body.Config != nil {
		extra, errConfig := normalizeUpstreamConfig(*body.Config)
		if errConfig != nil {
			writeError(c, errConfig, "update upstream")
			return
		}
		updates["config"] = extra
	}

	row, errUpdate := h.store.UpdateUpstream(c.Request.Context(), id, updates)
	if errUpdate != nil {
		writeError(c, errUpdate, "update upstream")
		return
	}
	h.reload(c.Request.Context())
	c.JSON(http.StatusOK, h.formatUpstream(row))
}

// Delete deactivates an upstream. The row and its authorizations are kept.
func (h *UpstreamHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if errDelete := h.store.DeleteUpstream(c.Request.Context(), id); errDelete != nil {
		writeError(c, errDelete, "delete upstream")
		return
	}
	h.reload(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// reload republishes the registry. The write already succeeded, so failures are only logged.
func (h *UpstreamHandler) reload(ctx context.Context) {
	if h.reloader == nil {
		return
	}
	if errReload := h.reloader.Reload(ctx); errReload != nil {
		log.WithError(errReload).Error("admin: reload upstream registry failed")
	}
}

func (h *UpstreamHandler) formatUpstream(row *models.Upstream) gin.H {
	if row == nil {
		return gin.H{}
	}
	masked := maskErrorPlaceholder
	if secret, errDecrypt := h.cipher.Decrypt(row.APIKeyEncrypted); errDecrypt == nil {
		masked = security.MaskSecret(secret)
	} else {
		log.WithError(errDecrypt).WithField("upstream", row.Name).Warn("admin: decrypt upstream secret failed")
	}
	return gin.H{
		"id":             row.ID,
		"name":           row.Name,
		"provider":       row.Provider,
		"base_url":       row.BaseURL,
		"api_key_masked": masked,
		"is_default":     row.IsDefault,
		"timeout":        row.Timeout,
		"active":         row.Active,
		"config":         row.Config,
		"created_at":     row.CreatedAt,
		"updated_at":     row.UpdatedAt,
	}
}

func validateUpstreamName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apierr.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxUpstreamNameLength {
		return "", apierr.Validation("name must be at most 64 characters")
	}
	return name, nil
}

// normalizeUpstreamConfig accepts a JSON object or nothing.
func normalizeUpstreamConfig(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, apierr.Validation("config must be a JSON object")
	}
	return datatypes.JSON(raw), nil
}

func validateTimeout(seconds int) error {
	if seconds < minUpstreamTimeout || seconds > maxUpstreamTimeout {
		return apierr.Validation("timeout must be between 1 and 300 seconds")
	}
	return nil
}
