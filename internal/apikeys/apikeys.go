// Package apikeys issues, reveals, revokes and deletes client keys.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/models"
	"github.com/router-for-me/AutoRouter/internal/security"
	log "github.com/sirupsen/logrus"
)

// ErrNotRevealable is returned for keys stored without an encrypted copy.
var ErrNotRevealable = errors.New("apikeys: key was stored without an encrypted copy")

// Store is the persistence the service needs.
type Store interface {
	CreateClientKey(ctx context.Context, key *models.ClientKey, upstreamIDs []uint64) error
	ClientKeyByID(ctx context.Context, id uint64) (*models.ClientKey, error)
	SetClientKeyActive(ctx context.Context, id uint64, active bool) error
	DeleteClientKey(ctx context.Context, id uint64) error
	UpstreamsByIDs(ctx context.Context, ids []uint64) ([]models.Upstream, error)
}

// Cipher seals the plaintext copy of issued keys.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// Invalidator drops cached verifications for a key.
type Invalidator interface {
	InvalidateKeyID(ctx context.Context, id uint64) error
}

// CreateInput describes a key to issue.
type CreateInput struct {
	Name        string
	Description *string
	UpstreamIDs []uint64
	ExpiresAt   *time.Time
}

// Created is an issued key together with its plaintext, shown only once.
type Created struct {
	Key   models.ClientKey
	Token string
}

// Service implements the key lifecycle.
type Service struct {
	store       Store
	cipher      Cipher
	invalidator Invalidator
	now         func() time.Time
}

// NewService constructs a Service. A nil invalidator skips cache invalidation.
func NewService(store Store, cipher Cipher, invalidator Invalidator) *Service {
	return &Service{store: store, cipher: cipher, invalidator: invalidator, now: time.Now}
}

// Create issues a key authorized for the given upstreams.
// Every id must exist; inactive upstreams may be authorized.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.Validation("name is required")
	}
	if len(name) > 255 {
		return nil, apierr.Validation("name must be at most 255 characters")
	}
	if len(in.UpstreamIDs) == 0 {
		return nil, apierr.Validation("at least one upstream must be specified")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, apierr.Validation("expires_at must be in the future")
	}

	ids := dedupe(in.UpstreamIDs)
	found, errFind := s.store.UpstreamsByIDs(ctx, ids)
	if errFind != nil {
		return nil, errFind
	}
	if invalid := missingIDs(ids, found); len(invalid) > 0 {
		return nil, apierr.Validation(fmt.Sprintf("invalid upstream ids: %v", invalid))
	}

	token, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		return nil, errGenerate
	}
	hash, errHash := security.HashAPIKey(token)
	if errHash != nil {
		return nil, errHash
	}
	encrypted, errEncrypt := s.cipher.Encrypt(token)
	if errEncrypt != nil {
		return nil, errEncrypt
	}

	var description *string
	if in.Description != nil {
		if trimmed := strings.TrimSpace(*in.Description); trimmed != "" {
			description = &trimmed
		}
	}
	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		utc := in.ExpiresAt.UTC()
		expiresAt = &utc
	}
	key := models.ClientKey{
		KeyHash:           hash,
		KeyPrefix:         security.KeyPrefix(token),
		KeyValueEncrypted: encrypted,
		Name:              name,
		Description:       description,
		Active:            true,
		ExpiresAt:         expiresAt,
	}
	if errCreate := s.store.CreateClientKey(ctx, &key, ids); errCreate != nil {
		return nil, errCreate
	}
	log.WithFields(log.Fields{
		"key_prefix": key.KeyPrefix,
		"name":       key.Name,
		"upstreams":  len(ids),
	}).Info("created client key")
	return &Created{Key: key, Token: token}, nil
}

// Reveal decrypts the stored copy of a key.
func (s *Service) Reveal(ctx context.Context, id uint64) (*models.ClientKey, string, error) {
	key, errFind := s.store.ClientKeyByID(ctx, id)
	if errFind != nil {
		return nil, "", errFind
	}
	if strings.TrimSpace(key.KeyValueEncrypted) == "" {
		return nil, "", ErrNotRevealable
	}
	token, errDecrypt := s.cipher.Decrypt(key.KeyValueEncrypted)
	if errDecrypt != nil {
		return nil, "", errDecrypt
	}
	log.WithField("key_prefix", key.KeyPrefix).Info("revealed client key")
	return key, token, nil
}

// Revoke deactivates a key and drops its cached verifications.
func (s *Service) Revoke(ctx context.Context, id uint64) error {
	if errUpdate := s.store.SetClientKeyActive(ctx, id, false); errUpdate != nil {
		return errUpdate
	}
	s.invalidate(ctx, id)
	log.WithField("key_id", id).Info("revoked client key")
	return nil
}

// Delete removes a key permanently and drops its cached verifications.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	if errDelete := s.store.DeleteClientKey(ctx, id); errDelete != nil {
		return errDelete
	}
	s.invalidate(ctx, id)
	log.WithField("key_id", id).Info("deleted client key")
	return nil
}

func (s *Service) invalidate(ctx context.Context, id uint64) {
	if s.invalidator == nil {
		return
	}
	if errInvalidate := s.invalidator.InvalidateKeyID(ctx, id); errInvalidate != nil {
		log.WithError(errInvalidate).WithField("key_id", id).Warn("failed to invalidate cached key")
	}
}

func dedupe(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []uint64, found []models.Upstream) []uint64 {
	present := make(map[uint64]struct{}, len(found))
	for _, row := range found {
		present[row.ID] = struct{}{}
	}
	var missing []uint64
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
