package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/AutoRouter/internal/config"
	"github.com/router-for-me/AutoRouter/internal/db"
	"github.com/router-for-me/AutoRouter/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// InitRequest contains parameters for writing a starter config file.
type InitRequest struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	Port             int
}

// InitResult holds the generated secrets. They are printed once by the caller.
type InitResult struct {
	ConfigPath    string
	DSN           string
	AdminToken    string
	EncryptionKey string
}

// ErrConfigExists is returned when init would overwrite an existing config.
var ErrConfigExists = errors.New("config file already exists")

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "autorouter.db"

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "sqlite":
		path := strings.TrimSpace(req.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		return buildSQLiteDSN(path), nil
	case "postgres":
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			req.DatabasePort,
			req.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
}

// buildSQLiteDSN constructs a SQLite DSN with default parameters.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_foreign_keys=on",
		"_synchronous=NORMAL",
	}, "&")
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// validateInitRequest normalizes and validates init input data.
func validateInitRequest(req *InitRequest) error {
	dbType := strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if dbType == "" {
		dbType = "sqlite"
	}
	req.DatabaseType = dbType

	switch dbType {
	case "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" {
			return fmt.Errorf("database host is required")
		}
		if req.DatabasePort <= 0 {
			return fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(req.DatabaseUser) == "" {
			return fmt.Errorf("database username is required")
		}
		if strings.TrimSpace(req.DatabaseName) == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
	if req.Port == 0 {
		req.Port = config.DefaultPort
	}
	if req.Port < 0 || req.Port > 65535 {
		return fmt.Errorf("invalid port: %d", req.Port)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	DatabaseDSN string        `yaml:"database-dsn"`
	AdminToken  string        `yaml:"admin-token"`
	Encryption  encryptionCfg `yaml:"encryption"`
	JWT         jwtCfg        `yaml:"jwt"`
	Proxy       proxyCfg      `yaml:"proxy"`
	Logging     loggingCfg    `yaml:"logging"`
}

type encryptionCfg struct {
	Key string `yaml:"key"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type proxyCfg struct {
	Prefix                string `yaml:"prefix"`
	UpstreamHeader        string `yaml:"upstream-header"`
	DefaultTimeoutSeconds int    `yaml:"default-timeout-seconds"`
	MaxBodyBytes          int64  `yaml:"max-body-bytes"`
}

type loggingCfg struct {
	Level  string `yaml:"level"`
	ToFile bool   `yaml:"to-file"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// InitConfig validates req, checks the database, and writes a starter config
// with freshly generated secrets. An existing config is never overwritten.
func InitConfig(configPath string, req InitRequest) (*InitResult, error) {
	if ConfigExists(configPath) {
		return nil, fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	if errValidate := validateInitRequest(&req); errValidate != nil {
		return nil, errValidate
	}
	dsn, errDSN := BuildDSN(req)
	if errDSN != nil {
		return nil, errDSN
	}
	if errTest := TestDatabaseConnection(dsn); errTest != nil {
		return nil, fmt.Errorf("database connection failed: %w", errTest)
	}

	encryptionKey, errKey := security.GenerateKey()
	if errKey != nil {
		return nil, fmt.Errorf("generate encryption key: %w", errKey)
	}
	adminToken, errToken := security.GenerateRandomString(32)
	if errToken != nil {
		return nil, fmt.Errorf("generate admin token: %w", errToken)
	}

	result := &InitResult{
		ConfigPath:    configPath,
		DSN:           dsn,
		AdminToken:    adminToken,
		EncryptionKey: encryptionKey,
	}
	if errWrite := WriteConfigFile(configPath, result, req.Port); errWrite != nil {
		return nil, errWrite
	}
	return result, nil
}

// WriteConfigFile writes the initial config file to disk.
func WriteConfigFile(configPath string, result *InitResult, port int) error {
	cfg := configFile{
		Port:        port,
		DatabaseDSN: result.DSN,
		AdminToken:  result.AdminToken,
		Encryption:  encryptionCfg{Key: result.EncryptionKey},
		JWT: jwtCfg{
			Secret: generateJWTSecret(),
			Expiry: "12h",
		},
		Proxy: proxyCfg{
			Prefix:                config.DefaultProxyPrefix,
			UpstreamHeader:        config.DefaultUpstreamHeader,
			DefaultTimeoutSeconds: config.DefaultUpstreamTimeoutSecond,
			MaxBodyBytes:          config.DefaultMaxBodyBytes,
		},
		Logging: loggingCfg{Level: "info"},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}
