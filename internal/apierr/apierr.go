// Package apierr defines the error kinds returned to clients and the JSON envelope carrying them.
package apierr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind is the stable machine-readable error code in every error response.
type Kind string

const (
	KindMissingAPIKey        Kind = "missing_api_key"
	KindInvalidAuthorization Kind = "invalid_authorization"
	KindInvalidAPIKey        Kind = "invalid_api_key"
	KindAPIKeyExpired        Kind = "api_key_expired"
	KindForbidden            Kind = "forbidden"
	KindUpstreamNotFound     Kind = "upstream_not_found"
	KindNoUpstreams          Kind = "no_upstreams"
	KindGatewayTimeout       Kind = "gateway_timeout"
	KindBadGateway           Kind = "bad_gateway"
	KindInternal             Kind = "internal_error"
	KindInvalidRequest       Kind = "invalid_request"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
)

// Status returns the HTTP status conventionally paired with kind.
func (k Kind) Status() int {
	switch k {
	case KindMissingAPIKey, KindInvalidAuthorization, KindInvalidAPIKey, KindAPIKeyExpired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstreamNotFound, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNoUpstreams:
		return http.StatusServiceUnavailable
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case KindBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body builds the error envelope {"error": kind, "message": message, ...extra}.
func Body(kind Kind, message string, extra gin.H) gin.H {
	body := gin.H{"error": string(kind), "message": message}
	for k, v := range extra {
		if k == "error" || k == "message" {
			continue
		}
		body[k] = v
	}
	return body
}

// Abort writes the envelope with the kind's status and stops the handler chain.
func Abort(c *gin.Context, kind Kind, message string, extra gin.H) {
	c.AbortWithStatusJSON(kind.Status(), Body(kind, message, extra))
}

// Write writes the envelope with the kind's status.
func Write(c *gin.Context, kind Kind, message string, extra gin.H) {
	c.JSON(kind.Status(), Body(kind, message, extra))
}

// ValidationError reports malformed admin input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Validation returns a *ValidationError.
func Validation(message string) error {
	return &ValidationError{Message: message}
}
