package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindMissingAPIKey:    http.StatusUnauthorized,
		KindAPIKeyExpired:    http.StatusUnauthorized,
		KindForbidden:        http.StatusForbidden,
		KindUpstreamNotFound: http.StatusBadRequest,
		KindGatewayTimeout:   http.StatusGatewayTimeout,
		KindBadGateway:       http.StatusBadGateway,
		KindNoUpstreams:      http.StatusServiceUnavailable,
		KindInternal:         http.StatusInternalServerError,
		Kind("unknown"):      http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.Status(); got != want {
			t.Fatalf("%s: got %d want %d", kind, got, want)
		}
	}
}

func TestWrite_Envelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Write(c, KindUpstreamNotFound, "upstream 'x' not found", gin.H{
		"available_upstreams": []string{"a", "b"},
		"error":               "must not override",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "upstream_not_found" || body["message"] != "upstream 'x' not found" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if list, ok := body["available_upstreams"].([]any); !ok || len(list) != 2 {
		t.Fatalf("missing available upstreams %v", body)
	}
}
