package security

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		t.Fatalf("missing prefix: %q", key)
	}
	// 32 bytes in unpadded base64url is 43 characters.
	if got := len(key) - len(APIKeyPrefix); got != 43 {
		t.Fatalf("unexpected body length %d", got)
	}
	if strings.ContainsAny(key, "+/=") {
		t.Fatalf("key should be url safe without padding: %q", key)
	}
	other, _ := GenerateAPIKey()
	if other == key {
		t.Fatalf("expected unique keys")
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := KeyPrefix("sk-auto-abcdefghijk"); got != "sk-auto-abcd" {
		t.Fatalf("unexpected prefix %q", got)
	}
	if got := KeyPrefix("short"); got != "short" {
		t.Fatalf("short token should be returned whole, got %q", got)
	}
}

func TestHashAndCompareAPIKey(t *testing.T) {
	hash, err := HashAPIKey("sk-auto-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "sk-auto-secret" {
		t.Fatalf("hash must not equal plaintext")
	}
	if !CompareAPIKey(hash, "sk-auto-secret") {
		t.Fatalf("expected match")
	}
	if CompareAPIKey(hash, "sk-auto-other") {
		t.Fatalf("expected mismatch")
	}
	if CompareAPIKey("not-a-hash", "sk-auto-secret") {
		t.Fatalf("malformed hash should not match")
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"sk-proj-12345678": "sk-***5678",
		"1234567":          "***",
		"":                 "***",
		"abcdefgh":         "abc***efgh",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdminToken(t *testing.T) {
	token, expiresAt, err := IssueAdminToken("jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry should be in the future")
	}
	if _, err := ParseAdminToken("jwt-secret", token); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ParseAdminToken("other-secret", token); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _, err := IssueAdminToken("jwt-secret", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := ParseAdminToken("jwt-secret", expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
