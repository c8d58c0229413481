// Package registry holds the immutable set of upstreams the proxy can forward to.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrEmpty is returned when a registry is built without upstreams.
	ErrEmpty = errors.New("registry: no upstreams configured")
	// ErrMultipleDefaults is returned when more than one upstream is marked default.
	ErrMultipleDefaults = errors.New("registry: multiple default upstreams")
)

// Config is the connection configuration of one upstream, with its secret decrypted.
type Config struct {
	ID        uint64
	Name      string
	Provider  Provider
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	IsDefault bool
}

// Info is the public view of an upstream. It never carries the secret.
type Info struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	IsDefault bool   `json:"is_default"`
}

// NotFoundError reports an unknown upstream name along with the names that do exist.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("registry: upstream %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Registry maps upstream names to configs. It is read-only after New.
type Registry struct {
	byName      map[string]Config
	order       []string
	defaultName string
}

// New builds a Registry. The default is the entry marked IsDefault, else the first entry.
func New(configs []Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, ErrEmpty
	}
	r := &Registry{
		byName: make(map[string]Config, len(configs)),
		order:  make([]string, 0, len(configs)),
	}
	var defaults []string
	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, errors.New("registry: upstream name is empty")
		}
		if !cfg.Provider.Valid() {
			return nil, fmt.Errorf("registry: upstream %q: unsupported provider %q", name, cfg.Provider)
		}
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("registry: duplicate upstream name %q", name)
		}
		cfg.Name = name
		r.byName[name] = cfg
		r.order = append(r.order, name)
		if cfg.IsDefault {
			defaults = append(defaults, name)
		}
	}
	switch len(defaults) {
	case 0:
		r.defaultName = r.order[0]
	case 1:
		r.defaultName = defaults[0]
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleDefaults, strings.Join(defaults, ", "))
	}
	return r, nil
}

// Resolve returns the named upstream, or the default when name is empty.
func (r *Registry) Resolve(name string) (Config, error) {
	if r == nil {
		return Config{}, ErrEmpty
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return r.Default(), nil
	}
	cfg, ok := r.byName[name]
	if !ok {
		return Config{}, &NotFoundError{Name: name, Available: r.Names()}
	}
	return cfg, nil
}

// Get looks up an upstream by exact name.
func (r *Registry) Get(name string) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	cfg, ok := r.byName[name]
	return cfg, ok
}

// Default returns the resolved default upstream.
func (r *Registry) Default() Config {
	if r == nil {
		return Config{}
	}
	return r.byName[r.defaultName]
}

// Names returns upstream names in load order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns the public view of every upstream in load order.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		cfg := r.byName[name]
		out = append(out, Info{Name: cfg.Name, Provider: cfg.Provider.String(), IsDefault: cfg.IsDefault})
	}
	return out
}

// Len returns the number of upstreams.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Holder publishes the current registry to concurrent readers.
// A rebuild replaces the whole registry; individual upstreams are never swapped in place.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder returns a Holder publishing r, which may be nil.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Load returns the current registry, or nil when none has been built.
func (h *Holder) Load() *Registry {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

// Store publishes r.
func (h *Holder) Store(r *Registry) {
	h.current.Store(r)
}
