package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout applies to upstreams stored without a positive timeout.
const DefaultTimeout = 60 * time.Second

// State names a step of the startup sequence.
type State string

const (
	StateLoadFromStore    State = "load_from_store"
	StateImportFromConfig State = "import_from_config"
	StatePersist          State = "persist"
	StateReload           State = "reload"
	StateBuildRegistry    State = "build_registry"
)

// Source is the persistence the startup sequence reads from and seeds into.
type Source interface {
	ActiveUpstreams(ctx context.Context) ([]models.Upstream, error)
	CreateUpstreams(ctx context.Context, upstreams []models.Upstream) error
}

// SecretCipher encrypts upstream secrets at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// Seed is an upstream definition from configuration, imported on first run.
type Seed struct {
	Name           string
	Provider       string
	BaseURL        string
	APIKey         string
	IsDefault      bool
	TimeoutSeconds int
}

// BootstrapResult describes one run of the startup sequence.
type BootstrapResult struct {
	Registry *Registry
	States   []State
	Imported int
}

// Bootstrap runs LOAD_FROM_STORE, then on an empty store IMPORT_FROM_CONFIG,
// PERSIST and RELOAD, and finally BUILD_REGISTRY.
// Seeds are only consulted when the store holds no active upstreams.
func Bootstrap(ctx context.Context, src Source, cipher SecretCipher, seeds []Seed, defaultTimeout time.Duration) (*BootstrapResult, error) {
	if src == nil || cipher == nil {
		return nil, errors.New("registry: bootstrap requires a source and a cipher")
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	result := &BootstrapResult{}

	result.States = append(result.States, StateLoadFromStore)
	rows, errLoad := src.ActiveUpstreams(ctx)
	if errLoad != nil {
		return result, fmt.Errorf("registry: load upstreams: %w", errLoad)
	}

	if len(rows) == 0 && len(seeds) > 0 {
		result.States = append(result.States, StateImportFromConfig)
		imported, errImport := seedsToRows(seeds, cipher, defaultTimeout)
		if errImport != nil {
			return result, errImport
		}

		result.States = append(result.States, StatePersist)
		if errPersist := src.CreateUpstreams(ctx, imported); errPersist != nil {
			return result, fmt.Errorf("registry: persist seeded upstreams: %w", errPersist)
		}
		result.Imported = len(imported)
		log.Infof("imported %d upstreams from configuration", len(imported))

		result.States = append(result.States, StateReload)
		rows, errLoad = src.ActiveUpstreams(ctx)
		if errLoad != nil {
			return result, fmt.Errorf("registry: reload upstreams: %w", errLoad)
		}
	}

	result.States = append(result.States, StateBuildRegistry)
	configs, errConfigs := rowsToConfigs(rows, cipher, defaultTimeout)
	if errConfigs != nil {
		return result, errConfigs
	}
	reg, errNew := New(configs)
	if errNew != nil {
		return result, errNew
	}
	result.Registry = reg
	return result, nil
}

func seedsToRows(seeds []Seed, cipher SecretCipher, defaultTimeout time.Duration) ([]models.Upstream, error) {
	rows := make([]models.Upstream, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	var defaults []string
	for i, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return nil, fmt.Errorf("registry: upstream seed %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("registry: upstream seed %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		provider, errProvider := ParseProvider(seed.Provider)
		if errProvider != nil {
			return nil, fmt.Errorf("registry: upstream seed %q: %w", name, errProvider)
		}
		baseURL, errURL := NormalizeBaseURL(seed.BaseURL)
		if errURL != nil {
			return nil, fmt.Errorf("registry: upstream seed %q: %w", name, errURL)
		}
		if strings.TrimSpace(seed.APIKey) == "" {
			return nil, fmt.Errorf("registry: upstream seed %q: api key is required", name)
		}
		encrypted, errEncrypt := cipher.Encrypt(strings.TrimSpace(seed.APIKey))
		if errEncrypt != nil {
			return nil, fmt.Errorf("registry: upstream seed %q: %w", name, errEncrypt)
		}
		if seed.IsDefault {
			defaults = append(defaults, name)
		}
		timeout := seed.TimeoutSeconds
		if timeout <= 0 {
			timeout = int(defaultTimeout / time.Second)
		}
		rows = append(rows, models.Upstream{
			Name:            name,
			Provider:        provider.String(),
			BaseURL:         baseURL,
			APIKeyEncrypted: encrypted,
			IsDefault:       seed.IsDefault,
			Timeout:         timeout,
			Active:          true,
		})
	}
	if len(defaults) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrMultipleDefaults, strings.Join(defaults, ", "))
	}
	return rows, nil
}

func rowsToConfigs(rows []models.Upstream, cipher SecretCipher, defaultTimeout time.Duration) ([]Config, error) {
	configs := make([]Config, 0, len(rows))
	for _, row := range rows {
		provider, errProvider := ParseProvider(row.Provider)
		if errProvider != nil {
			return nil, fmt.Errorf("registry: upstream %q: %w", row.Name, errProvider)
		}
		secret, errDecrypt := cipher.Decrypt(row.APIKeyEncrypted)
		if errDecrypt != nil {
			return nil, fmt.Errorf("registry: upstream %q: %w", row.Name, errDecrypt)
		}
		timeout := time.Duration(row.Timeout) * time.Second
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		configs = append(configs, Config{
			ID:        row.ID,
			Name:      row.Name,
			Provider:  provider,
			BaseURL:   row.BaseURL,
			APIKey:    secret,
			Timeout:   timeout,
			IsDefault: row.IsDefault,
		})
	}
	return configs, nil
}

// NormalizeBaseURL validates an absolute http(s) URL and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("base url is required")
	}
	parsed, errParse := url.Parse(trimmed)
	if errParse != nil {
		return "", fmt.Errorf("invalid base url: %w", errParse)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid base url %q: scheme must be http or https", trimmed)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid base url %q: missing host", trimmed)
	}
	return strings.TrimRight(trimmed, "/"), nil
}
