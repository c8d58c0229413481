package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AutoRouter/internal/access"
	"github.com/router-for-me/AutoRouter/internal/apikeys"
	"github.com/router-for-me/AutoRouter/internal/credcache"
	"github.com/router-for-me/AutoRouter/internal/db"
	"github.com/router-for-me/AutoRouter/internal/models"
	relay "github.com/router-for-me/AutoRouter/internal/proxy"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"github.com/router-for-me/AutoRouter/internal/security"
	"github.com/router-for-me/AutoRouter/internal/store"
	"github.com/router-for-me/AutoRouter/internal/usage"
)

type gateway struct {
	router *gin.Engine
	store  *store.GormStore
	token  string
	holder *registry.Holder
}

// newGateway wires a gateway with two upstreams. The issued key may only use "primary".
func newGateway(t *testing.T, primaryURL string, primaryTimeout time.Duration) *gateway {
	t.Helper()
	return newGatewayWithOptions(t, primaryURL, primaryTimeout, Options{})
}

func newGatewayWithOptions(t *testing.T, primaryURL string, primaryTimeout time.Duration, opts Options) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "proxy.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	encKey, _ := security.GenerateKey()
	cipher, err := security.LoadCipher(encKey, "")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	st := store.NewGormStore(conn)
	ctx := context.Background()

	primary := models.Upstream{Name: "primary", Provider: "openai", BaseURL: primaryURL, APIKeyEncrypted: "x", Timeout: 60, Active: true, IsDefault: true}
	secondary := models.Upstream{Name: "secondary", Provider: "anthropic", BaseURL: "http://127.0.0.1:1", APIKeyEncrypted: "x", Timeout: 60, Active: true}
	for _, row := range []*models.Upstream{&primary, &secondary} {
		if errCreate := st.CreateUpstream(ctx, row); errCreate != nil {
			t.Fatalf("create upstream: %v", errCreate)
		}
	}

	reg, err := registry.New([]registry.Config{
		{ID: primary.ID, Name: "primary", Provider: registry.ProviderOpenAI, BaseURL: primaryURL, APIKey: "sk-upstream-primary", Timeout: primaryTimeout, IsDefault: true},
		{ID: secondary.ID, Name: "secondary", Provider: registry.ProviderAnthropic, BaseURL: "http://127.0.0.1:1", APIKey: "sk-ant", Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	holder := registry.NewHolder(reg)

	verifier := access.NewVerifier(st, credcache.NewMemoryCache(time.Minute, 100))
	created, err := apikeys.NewService(st, cipher, verifier).Create(ctx, apikeys.CreateInput{Name: "tester", UpstreamIDs: []uint64{primary.ID}})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	engine := relay.NewEngine(nil)
	t.Cleanup(engine.Close)
	opts.Prefix = "/proxy"
	opts.UpstreamHeader = "X-Upstream-Name"
	handler := NewHandler(holder, verifier, engine, usage.NewGormRecorder(conn), opts)
	router := gin.New()
	RegisterProxyRoutes(router, handler)

	return &gateway{router: router, store: st, token: created.Token, holder: holder}
}

func (g *gateway) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func (g *gateway) logs(t *testing.T) []models.RequestLog {
	t.Helper()
	rows, _, err := g.store.ListRequestLogs(context.Background(), store.RequestLogFilter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return rows
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestProxy_AuthFailures(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)

	cases := []struct {
		header string
		kind   string
	}{
		{header: "", kind: "missing_api_key"},
		{header: "Basic abc", kind: "invalid_authorization"},
		{header: "Bearer sk-auto-doesnotexist000000000000000000000000000", kind: "invalid_api_key"},
	}
	for _, tc := range cases {
		headers := map[string]string{}
		if tc.header != "" {
			headers["Authorization"] = tc.header
		}
		rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{}`, headers)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", tc.header, rec.Code)
		}
		if kind := decodeError(t, rec)["error"]; kind != tc.kind {
			t.Fatalf("header %q: expected kind %s, got %v", tc.header, tc.kind, kind)
		}
	}
	if rows := g.logs(t); len(rows) != 0 {
		t.Fatalf("auth failures must not be logged, got %d rows", len(rows))
	}
}

func TestProxy_UnknownUpstream(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)

	rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{}`, map[string]string{
		"Authorization":   "Bearer " + g.token,
		"X-Upstream-Name": "missing",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body["error"] != "upstream_not_found" {
		t.Fatalf("unexpected kind %v", body["error"])
	}
	available, _ := body["available_upstreams"].([]any)
	if len(available) != 2 || available[0] != "primary" || available[1] != "secondary" {
		t.Fatalf("unexpected available upstreams %v", body["available_upstreams"])
	}
	if rows := g.logs(t); len(rows) != 0 {
		t.Fatalf("resolve failures must not be logged")
	}
}

func TestProxy_NoUpstreams(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)
	g.holder.Store(nil)

	rec := g.do(t, http.MethodGet, "/proxy/v1/models", "", map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestProxy_Forbidden(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)

	rec := g.do(t, http.MethodPost, "/proxy/v1/messages", `{}`, map[string]string{
		"Authorization":   "Bearer " + g.token,
		"X-Upstream-Name": "secondary",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if kind := decodeError(t, rec)["error"]; kind != "forbidden" {
		t.Fatalf("unexpected kind %v", kind)
	}
}

func TestProxy_ConnectionRefusedLogged(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)

	rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{"model":"gpt-4o"}`, map[string]string{
		"Authorization": "Bearer " + g.token,
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if kind := decodeError(t, rec)["error"]; kind != "bad_gateway" {
		t.Fatalf("unexpected kind %v", kind)
	}
	rows := g.logs(t)
	if len(rows) != 1 {
		t.Fatalf("expected one log row, got %d", len(rows))
	}
	row := rows[0]
	if row.StatusCode != http.StatusBadGateway || row.ErrorMessage == nil || *row.ErrorMessage == "" {
		t.Fatalf("unexpected log row %+v", row)
	}
	if row.TotalTokens != 0 || row.Model == nil || *row.Model != "gpt-4o" {
		t.Fatalf("unexpected log usage/model %+v", row)
	}
}

func TestProxy_TimeoutLogged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	g := newGateway(t, upstream.URL, 100*time.Millisecond)

	rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{}`, map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	rows := g.logs(t)
	if len(rows) != 1 || rows[0].StatusCode != http.StatusGatewayTimeout || rows[0].ErrorMessage == nil {
		t.Fatalf("unexpected log rows %+v", rows)
	}
}

func TestProxy_BufferedSuccess(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream-Trace", "abc")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"model":"gpt-4o-2024","usage":{"prompt_tokens":10,"completion_tokens":15}}`)
	}))
	defer upstream.Close()
	g := newGateway(t, upstream.URL+"/v1", time.Second)

	rec := g.do(t, http.MethodPost, "/proxy/chat/completions?stream=false", `{"messages":[]}`, map[string]string{
		"Authorization": "Bearer " + g.token,
		"X-Request-Id":  "req-123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected upstream status 201, got %d", rec.Code)
	}
	if gotAuth != "Bearer sk-upstream-primary" {
		t.Fatalf("upstream saw authorization %q", gotAuth)
	}
	if gotPath != "/v1/chat/completions" || gotQuery != "stream=false" {
		t.Fatalf("unexpected upstream target %s?%s", gotPath, gotQuery)
	}
	if rec.Header().Get("X-Upstream-Trace") != "abc" || rec.Header().Get(HeaderRequestID) != "req-123" {
		t.Fatalf("unexpected response headers %v", rec.Header())
	}

	rows := g.logs(t)
	if len(rows) != 1 {
		t.Fatalf("expected one log row, got %d", len(rows))
	}
	row := rows[0]
	if row.StatusCode != http.StatusCreated || row.PromptTokens != 10 || row.CompletionTokens != 15 || row.TotalTokens != 25 {
		t.Fatalf("unexpected log row %+v", row)
	}
	if row.Model == nil || *row.Model != "gpt-4o-2024" || row.Method != http.MethodPost || row.Path != "/chat/completions" {
		t.Fatalf("unexpected log row fields %+v", row)
	}
}

func TestProxy_EncodedPathForwardedVerbatim(t *testing.T) {
	var gotEscaped, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer upstream.Close()
	g := newGateway(t, upstream.URL, time.Second)

	rec := g.do(t, http.MethodGet, "/proxy/v1/files/a%2Fb%3Fx?limit=1", "", map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotEscaped != "/v1/files/a%2Fb%3Fx" {
		t.Fatalf("upstream saw path %q", gotEscaped)
	}
	if gotQuery != "limit=1" {
		t.Fatalf("upstream saw query %q", gotQuery)
	}
	rows := g.logs(t)
	if len(rows) != 1 || rows[0].Path != "/v1/files/a%2Fb%3Fx" {
		t.Fatalf("unexpected log rows %+v", rows)
	}
}

func TestProxy_BodyTooLarge(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	g := newGatewayWithOptions(t, upstream.URL, time.Second, Options{MaxBodyBytes: 16})

	rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", strings.Repeat("x", 64), map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body["error"] != "invalid_request" {
		t.Fatalf("unexpected error body %v", body)
	}
	if called {
		t.Fatal("oversized request reached the upstream")
	}

	rec = g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{"a":1}`, map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected small body to be forwarded, got %d", rec.Code)
	}
}

func TestProxy_StreamPassthrough(t *testing.T) {
	events := []string{
		"data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: {\"id\":\"1\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n",
		"data: [DONE]\n\n",
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			_, _ = io.WriteString(w, ev)
			flusher.Flush()
		}
	}))
	defer upstream.Close()
	g := newGateway(t, upstream.URL, time.Second)

	rec := g.do(t, http.MethodPost, "/proxy/v1/chat/completions", `{"model":"gpt-4o","stream":true}`, map[string]string{"Authorization": "Bearer " + g.token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != strings.Join(events, "") {
		t.Fatalf("stream altered:\n%q", rec.Body.String())
	}
	rows := g.logs(t)
	if len(rows) != 1 || rows[0].TotalTokens != 5 || rows[0].PromptTokens != 3 {
		t.Fatalf("unexpected log rows %+v", rows)
	}
}

func TestProxy_ListUpstreamsUnauthenticated(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", time.Second)

	rec := g.do(t, http.MethodGet, "/proxy/v1/upstreams", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-upstream-primary") {
		t.Fatalf("listing leaked a secret: %s", rec.Body.String())
	}
	var body struct {
		Upstreams []registry.Info `json:"upstreams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Upstreams) != 2 || !body.Upstreams[0].IsDefault || body.Upstreams[1].Provider != "anthropic" {
		t.Fatalf("unexpected listing %+v", body.Upstreams)
	}
}
