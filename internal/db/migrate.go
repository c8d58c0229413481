package db

import (
	"fmt"

	"github.com/router-for-me/AutoRouter/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// autoMigrateModels creates or updates the gateway tables.
func autoMigrateModels(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Upstream{},
		&models.ClientKey{},
		&models.UpstreamAuthorization{},
		&models.RequestLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrateModels(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}
	if errKeyColumn := conn.Exec(`
		ALTER TABLE client_keys
		ADD COLUMN IF NOT EXISTS key_value_encrypted text
	`).Error; errKeyColumn != nil {
		return fmt.Errorf("db: add key_value_encrypted: %w", errKeyColumn)
	}
	if errLogIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_request_logs_key_created ON request_logs (client_key_id, created_at DESC)
	`).Error; errLogIdx != nil {
		return fmt.Errorf("db: create request log index: %w", errLogIdx)
	}
	if errPrefixIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_client_keys_prefix_active ON client_keys (key_prefix, active)
	`).Error; errPrefixIdx != nil {
		return fmt.Errorf("db: create key prefix index: %w", errPrefixIdx)
	}
	return nil
}

// migrateSQLite applies SQLite-specific schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errFK := conn.Exec("PRAGMA foreign_keys = ON").Error; errFK != nil {
		return fmt.Errorf("db: enable foreign keys: %w", errFK)
	}
	if errAutoMigrate := autoMigrateModels(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}
	if errLogIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_request_logs_key_created ON request_logs (client_key_id, created_at)
	`).Error; errLogIdx != nil {
		return fmt.Errorf("db: create request log index: %w", errLogIdx)
	}
	if errPrefixIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_client_keys_prefix_active ON client_keys (key_prefix, active)
	`).Error; errPrefixIdx != nil {
		return fmt.Errorf("db: create key prefix index: %w", errPrefixIdx)
	}
	return nil
}
