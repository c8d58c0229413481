package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("openai", 200, 1500*time.Millisecond, 10, 15)
	c.ObserveRequest("openai", 200, time.Second, 0, 0)
	c.ObserveRequest("openai", 502, time.Second, 0, 0)
	c.ObserveAuthFailure("invalid_api_key")
	c.ObserveUpstreamError("openai", "connection")
	done := c.TrackInflight()

	out := scrape(t, c)
	for _, want := range []string{
		`autorouter_proxy_requests_total{status="200",upstream="openai"} 2`,
		`autorouter_proxy_requests_total{status="502",upstream="openai"} 1`,
		`autorouter_proxy_tokens_total{type="completion",upstream="openai"} 15`,
		`autorouter_auth_failures_total{kind="invalid_api_key"} 1`,
		`autorouter_proxy_upstream_errors_total{kind="connection",upstream="openai"} 1`,
		`autorouter_proxy_inflight_requests 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("scrape output missing %q", want)
		}
	}

	done()
	if out := scrape(t, c); !strings.Contains(out, "autorouter_proxy_inflight_requests 0") {
		t.Fatalf("expected inflight gauge to return to 0")
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("x", 200, time.Second, 1, 1)
	c.ObserveAuthFailure("x")
	c.ObserveUpstreamError("x", "timeout")
	c.TrackInflight()()
	if c.Registry() != nil {
		t.Fatalf("nil collector should have no registry")
	}
}
