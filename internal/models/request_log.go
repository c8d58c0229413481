package models

import "time"

// RequestLog stores one audit record per proxied request.
type RequestLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClientKeyID *uint64 `gorm:"index"` // Client key used, when resolved.
	UpstreamID  *uint64 `gorm:"index"` // Upstream targeted, when resolved.

	Method string  `gorm:"type:varchar(10)"`  // HTTP method.
	Path   string  `gorm:"type:text"`         // Request path.
	Model  *string `gorm:"type:varchar(128)"` // Model name, when known.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt token count.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion token count.
	TotalTokens      int64 `gorm:"not null;default:0"` // Total token count.

	StatusCode   int     `gorm:"not null;default:0;index"` // HTTP status returned to the caller.
	DurationMs   int64   `gorm:"not null;default:0"`       // Request duration in milliseconds.
	ErrorMessage *string `gorm:"type:text"`                // Error text for failed requests.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Request timestamp.
}
