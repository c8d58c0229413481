package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/config"
	"github.com/router-for-me/AutoRouter/internal/security"
	log "github.com/sirupsen/logrus"
)

// AuthHandler exchanges the admin token for a session JWT.
type AuthHandler struct {
	adminToken string
	jwtCfg     config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(adminToken string, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{adminToken: strings.TrimSpace(adminToken), jwtCfg: jwtCfg}
}

// Login issues a JWT when the posted token matches the admin token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid json", nil)
		return
	}
	if !MatchAdminToken(h.adminToken, body.Token) {
		apierr.Write(c, apierr.KindForbidden, "invalid admin token", nil)
		return
	}
	token, expiresAt, errIssue := security.IssueAdminToken(h.jwtCfg.Secret, h.jwtCfg.Expiry)
	if errIssue != nil {
		log.WithError(errIssue).Error("admin: issue token failed")
		apierr.Write(c, apierr.KindInternal, "issue token failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
}

// MatchAdminToken compares in constant time. An unset admin token matches nothing.
func MatchAdminToken(expected, presented string) bool {
	expected = strings.TrimSpace(expected)
	presented = strings.TrimSpace(presented)
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
