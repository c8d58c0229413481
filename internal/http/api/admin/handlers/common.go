package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/store"
	log "github.com/sirupsen/logrus"
)

// parseID reads a positive numeric path parameter.
func parseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// parseOptionalUint reads an optional numeric query parameter.
func parseOptionalUint(c *gin.Context, name string) (*uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	v, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		apierr.Write(c, apierr.KindInvalidRequest, "invalid "+name, nil)
		return nil, false
	}
	return &v, true
}

// pageQuery binds the shared pagination parameters.
type pageQuery struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

func (q pageQuery) toPage() store.Page {
	return store.Page{Page: q.Page, PageSize: q.PageSize}.Normalize()
}

// writeError maps service and store errors onto the error envelope.
func writeError(c *gin.Context, err error, action string) {
	var validation *apierr.ValidationError
	switch {
	case errors.As(err, &validation):
		apierr.Write(c, apierr.KindInvalidRequest, validation.Message, nil)
	case errors.Is(err, store.ErrNotFound):
		apierr.Write(c, apierr.KindNotFound, "not found", nil)
	case errors.Is(err, store.ErrDuplicateName):
		apierr.Write(c, apierr.KindConflict, "name already exists", nil)
	default:
		log.WithError(err).Errorf("admin: %s failed", action)
		apierr.Write(c, apierr.KindInternal, action+" failed", nil)
	}
}
