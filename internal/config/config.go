package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath        = "CONFIG_PATH"
	EnvDBConnection      = "DB_CONNECTION"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTExpiry         = "JWT_EXPIRY"
	EnvEncryptionKey     = "ENCRYPTION_KEY"
	EnvEncryptionKeyFile = "ENCRYPTION_KEY_FILE"
	EnvAdminToken        = "ADMIN_TOKEN"
	EnvLogLevel          = "LOG_LEVEL"
	EnvPort              = "PORT"
)

// Defaults applied before the config file is read.
const (
	DefaultPort                  = 8318
	DefaultProxyPrefix           = "/proxy"
	DefaultUpstreamHeader        = "X-Upstream-Name"
	DefaultUpstreamTimeoutSecond = 60
	DefaultMaxBodyBytes          = 32 << 20
	DefaultCacheTTL              = 5 * time.Minute
	DefaultCacheMaxEntries       = 10000
	DefaultMetricsPath           = "/metrics"
	DefaultRedisPrefix           = "autorouter:auth"
	DefaultSyncPollInterval      = 15 * time.Second

	maxUpstreamTimeoutSeconds = 300
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// EncryptionConfig locates the key protecting stored secrets.
type EncryptionConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key-file"`
}

// ProxyConfig controls the proxy surface.
type ProxyConfig struct {
	Prefix                string `yaml:"prefix"`
	UpstreamHeader        string `yaml:"upstream-header"`
	DefaultTimeoutSeconds int    `yaml:"default-timeout-seconds"`
	// MaxBodyBytes caps inbound request bodies; larger requests get 413.
	MaxBodyBytes int64 `yaml:"max-body-bytes"`
}

// RedisConfig configures the optional shared verification cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuthConfig controls client key verification caching.
type AuthConfig struct {
	CacheTTL        time.Duration `yaml:"cache-ttl"`
	CacheMaxEntries int           `yaml:"cache-max-entries"`
	Cache           struct {
		Redis RedisConfig `yaml:"redis"`
	} `yaml:"cache"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls log level and optional rotated file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	ToFile     bool   `yaml:"to-file"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// UpstreamSeed is an upstream imported into an empty database on first start.
type UpstreamSeed struct {
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base-url"`
	APIKey    string `yaml:"api-key"`
	IsDefault bool   `yaml:"is-default"`
	Timeout   int    `yaml:"timeout"`
}

// SyncConfig controls polling for changes made by other instances.
// A zero interval disables it.
type SyncConfig struct {
	PollInterval time.Duration `yaml:"poll-interval"`
}

// Config is the full server configuration.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Encryption EncryptionConfig `yaml:"encryption"`
	AdminToken string           `yaml:"admin-token"`
	JWT        JWTConfig        `yaml:"jwt"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Auth       AuthConfig       `yaml:"auth"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sync       SyncConfig       `yaml:"sync"`
	Upstreams  []UpstreamSeed   `yaml:"upstreams"`

	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

func defaultConfig() Config {
	cfg := Config{
		Port: DefaultPort,
		JWT:  JWTConfig{Expiry: defaultJWTExpiry},
		Proxy: ProxyConfig{
			Prefix:                DefaultProxyPrefix,
			UpstreamHeader:        DefaultUpstreamHeader,
			DefaultTimeoutSeconds: DefaultUpstreamTimeoutSecond,
			MaxBodyBytes:          DefaultMaxBodyBytes,
		},
		Auth: AuthConfig{
			CacheTTL:        DefaultCacheTTL,
			CacheMaxEntries: DefaultCacheMaxEntries,
		},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Sync:    SyncConfig{PollInterval: DefaultSyncPollInterval},
	}
	cfg.Auth.Cache.Redis.Prefix = DefaultRedisPrefix
	return cfg
}

// Load reads the YAML config file, applies environment overrides, and validates the result.
// A missing file is not an error; defaults and environment values are used instead.
func Load(configPath string) (*Config, error) {
	cfg := defaultConfig()
	cfg.Path = configPath

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnv(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if key := strings.TrimSpace(os.Getenv(EnvEncryptionKey)); key != "" {
		cfg.Encryption.Key = key
	}
	if keyFile := strings.TrimSpace(os.Getenv(EnvEncryptionKeyFile)); keyFile != "" {
		cfg.Encryption.KeyFile = keyFile
	}
	if token := strings.TrimSpace(os.Getenv(EnvAdminToken)); token != "" {
		cfg.AdminToken = token
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Logging.Level = level
	}
	if portRaw := strings.TrimSpace(os.Getenv(EnvPort)); portRaw != "" {
		if port, errParse := strconv.Atoi(portRaw); errParse == nil {
			cfg.Port = port
		}
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		c.DatabaseDSN = strings.TrimSpace(c.Database.DSN)
	}
	if c.DatabaseDSN == "" {
		return ErrMissingDatabaseDSN
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	prefix := "/" + strings.Trim(strings.TrimSpace(c.Proxy.Prefix), "/")
	if prefix == "/" {
		return errors.New("proxy.prefix must not be empty or /")
	}
	c.Proxy.Prefix = prefix
	if strings.TrimSpace(c.Proxy.UpstreamHeader) == "" {
		c.Proxy.UpstreamHeader = DefaultUpstreamHeader
	}
	if c.Proxy.DefaultTimeoutSeconds <= 0 || c.Proxy.DefaultTimeoutSeconds > maxUpstreamTimeoutSeconds {
		return fmt.Errorf("proxy.default-timeout-seconds must be between 1 and %d", maxUpstreamTimeoutSeconds)
	}
	if c.Proxy.MaxBodyBytes <= 0 {
		c.Proxy.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Auth.CacheTTL <= 0 {
		c.Auth.CacheTTL = DefaultCacheTTL
	}
	if c.Auth.CacheMaxEntries <= 0 {
		c.Auth.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if c.Auth.Cache.Redis.Enabled && strings.TrimSpace(c.Auth.Cache.Redis.Addr) == "" {
		return errors.New("auth.cache.redis.addr is required when redis is enabled")
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}
	if c.Metrics.Path == "" || !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = DefaultMetricsPath
	}

	for i, seed := range c.Upstreams {
		if seed.Timeout < 0 || seed.Timeout > maxUpstreamTimeoutSeconds {
			return fmt.Errorf("upstreams[%d]: timeout must be between 1 and %d", i, maxUpstreamTimeoutSeconds)
		}
	}
	return nil
}

// DefaultUpstreamTimeout returns the configured default upstream timeout.
func (c *Config) DefaultUpstreamTimeout() time.Duration {
	return time.Duration(c.Proxy.DefaultTimeoutSeconds) * time.Second
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 12 * time.Hour
