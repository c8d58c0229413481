package models

import "time"

// ClientKey stores a credential issued to a gateway caller.
type ClientKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyHash           string `gorm:"type:varchar(128);not null;uniqueIndex"` // bcrypt hash of the secret.
	KeyPrefix         string `gorm:"type:varchar(16);not null;index"`        // First 12 characters of the secret.
	KeyValueEncrypted string `gorm:"type:text"`                              // Encrypted secret for reveal; empty for legacy keys.

	Name        string  `gorm:"type:varchar(255);not null"` // Display name.
	Description *string `gorm:"type:text"`                  // Optional description.

	Active    bool       `gorm:"not null;default:true;index"` // Whether the key may authenticate.
	ExpiresAt *time.Time // Optional expiry.

	Authorizations []UpstreamAuthorization `gorm:"foreignKey:ClientKeyID;constraint:OnDelete:CASCADE"` // Authorized upstreams.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ExpiredAt reports whether the key has passed its expiry at the given instant.
func (k *ClientKey) ExpiredAt(now time.Time) bool {
	if k == nil || k.ExpiresAt == nil {
		return false
	}
	return !k.ExpiresAt.After(now)
}

// UsableAt reports whether the key is active and unexpired at the given instant.
func (k *ClientKey) UsableAt(now time.Time) bool {
	return k != nil && k.Active && !k.ExpiredAt(now)
}

// AuthorizedFor reports whether the key may target the given upstream.
func (k *ClientKey) AuthorizedFor(upstreamID uint64) bool {
	if k == nil {
		return false
	}
	for _, auth := range k.Authorizations {
		if auth.UpstreamID == upstreamID {
			return true
		}
	}
	return false
}

// UpstreamIDs returns the ids of the authorized upstreams.
func (k *ClientKey) UpstreamIDs() []uint64 {
	if k == nil {
		return nil
	}
	ids := make([]uint64, 0, len(k.Authorizations))
	for _, auth := range k.Authorizations {
		ids = append(ids, auth.UpstreamID)
	}
	return ids
}
