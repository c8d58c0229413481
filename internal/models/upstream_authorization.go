package models

import "time"

// UpstreamAuthorization grants a client key access to one upstream.
type UpstreamAuthorization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClientKeyID uint64    `gorm:"not null;uniqueIndex:idx_upstream_authorizations_pair;index"` // Client key reference.
	UpstreamID  uint64    `gorm:"not null;uniqueIndex:idx_upstream_authorizations_pair;index"` // Upstream reference.
	Upstream    *Upstream `gorm:"foreignKey:UpstreamID;constraint:OnDelete:CASCADE"`           // Authorized upstream.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Grant timestamp.
}
