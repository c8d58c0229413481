package proxy

import (
	"net/http"
	"reflect"
	"testing"

	"github.com/router-for-me/AutoRouter/internal/registry"
)

func TestFilterHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Connection", "keep-alive, X-Trace")
	in.Set("Host", "gateway.local")
	in.Set("X-Custom", "1")
	in.Set("X-Trace", "abc")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Upgrade", "websocket")
	in.Set("Proxy-Authorization", "Basic xyz")
	in.Set("Te", "trailers")
	in.Set("Content-Type", "application/json")

	out := FilterHeaders(in)
	if len(out) != 2 || out.Get("X-Custom") != "1" || out.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected filtered headers %v", out)
	}
	if in.Get("Connection") == "" {
		t.Fatalf("input headers must not be modified")
	}
}

func TestFilterHeaders_CopiesValues(t *testing.T) {
	in := http.Header{"X-Multi": {"a", "b"}}
	out := FilterHeaders(in)
	out["X-Multi"][0] = "changed"
	if in["X-Multi"][0] != "a" {
		t.Fatalf("filtered header shares backing array with input")
	}
}

func TestInjectAuth_IsPure(t *testing.T) {
	in := http.Header{}
	in.Set("X-Custom", "1")
	snapshot := in.Clone()

	openai, err := InjectAuth(in, registry.ProviderOpenAI, "sk-up")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if openai.Get("Authorization") != "Bearer sk-up" || openai.Get("X-Api-Key") != "" {
		t.Fatalf("unexpected openai headers %v", openai)
	}

	anthropic, err := InjectAuth(in, registry.ProviderAnthropic, "sk-ant")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if anthropic.Get("X-Api-Key") != "sk-ant" || anthropic.Get("Authorization") != "" {
		t.Fatalf("unexpected anthropic headers %v", anthropic)
	}

	if !reflect.DeepEqual(in, snapshot) {
		t.Fatalf("input headers were mutated: %v", in)
	}

	if _, err := InjectAuth(in, registry.Provider("gemini"), "x"); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestOutboundHeaders_DropsCallerCredentials(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer sk-auto-caller")
	in.Set("X-Api-Key", "sk-auto-caller")
	in.Set("Anthropic-Version", "2023-06-01")

	out, err := outboundHeaders(in, registry.Config{Provider: registry.ProviderAnthropic, APIKey: "sk-ant"})
	if err != nil {
		t.Fatalf("outbound headers: %v", err)
	}
	if out.Get("Authorization") != "" {
		t.Fatalf("caller authorization leaked upstream")
	}
	if out.Get("X-Api-Key") != "sk-ant" || out.Get("Anthropic-Version") != "2023-06-01" {
		t.Fatalf("unexpected outbound headers %v", out)
	}
}

func TestJoinURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"https://api.openai.com/v1", "chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1//", "//models", "https://api.openai.com/v1/models"},
		{"https://api.anthropic.com", "", "https://api.anthropic.com/"},
		{"https://api.openai.com/v1", "/files/a%2Fb%3Fx", "https://api.openai.com/v1/files/a%2Fb%3Fx"},
	}
	for _, tc := range cases {
		if got := JoinURL(tc.base, tc.path); got != tc.want {
			t.Fatalf("JoinURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}
