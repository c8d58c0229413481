package registry

import (
	"fmt"
	"strings"
)

// Provider is the closed set of upstream API dialects the gateway speaks.
type Provider string

const (
	// ProviderOpenAI authenticates with "Authorization: Bearer <key>".
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic authenticates with "x-api-key: <key>".
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists every supported provider.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic}
}

// ParseProvider normalizes and validates a provider name.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("registry: unsupported provider %q", raw)
	}
	return p, nil
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic:
		return true
	default:
		return false
	}
}

func (p Provider) String() string { return string(p) }
