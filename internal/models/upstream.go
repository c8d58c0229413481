package models

import (
	"time"

	"gorm.io/datatypes"
)

// Upstream stores a configured AI provider backend.
type Upstream struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name            string `gorm:"type:varchar(64);not null;uniqueIndex"` // Unique upstream name.
	Provider        string `gorm:"type:varchar(32);not null"`             // Provider kind.
	BaseURL         string `gorm:"type:text;not null"`                    // Base URL for forwarding.
	APIKeyEncrypted string `gorm:"type:text;not null"`                    // Encrypted provider secret.

	IsDefault bool `gorm:"not null;default:false"`      // Default upstream flag.
	Timeout   int  `gorm:"not null;default:60"`         // Connect timeout in seconds.
	Active    bool `gorm:"not null;default:true;index"` // Soft-delete flag.

	Config datatypes.JSON `gorm:"type:jsonb"` // Free-form configuration blob.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
