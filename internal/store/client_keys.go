package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/AutoRouter/internal/db"
	"github.com/router-for-me/AutoRouter/internal/models"
	"gorm.io/gorm"
)

// ClientKeyFilter narrows ListClientKeys.
type ClientKeyFilter struct {
	Page
	Keyword string
	Active  *bool
}

// CandidatesByPrefix returns active keys whose plaintext starts with prefix.
func (s *GormStore) CandidatesByPrefix(ctx context.Context, prefix string) ([]models.ClientKey, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var keys []models.ClientKey
	if errFind := s.db.WithContext(ctx).
		Preload("Authorizations").
		Where("key_prefix = ? AND active = ?", prefix, true).
		Order("id ASC").
		Find(&keys).Error; errFind != nil {
		return nil, fmt.Errorf("store: candidates by prefix: %w", errFind)
	}
	return keys, nil
}

// ClientKeyByID loads a key with its authorizations.
func (s *GormStore) ClientKeyByID(ctx context.Context, id uint64) (*models.ClientKey, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var key models.ClientKey
	if errFind := s.db.WithContext(ctx).Preload("Authorizations").First(&key, id).Error; errFind != nil {
		return nil, notFound(errFind)
	}
	return &key, nil
}

// CreateClientKey inserts key and one authorization per upstream id in one transaction.
func (s *GormStore) CreateClientKey(ctx context.Context, key *models.ClientKey, upstreamIDs []uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("store: client key is nil")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key.Authorizations = nil
		if errCreate := tx.Create(key).Error; errCreate != nil {
			return fmt.Errorf("store: create client key: %w", errCreate)
		}
		auths := make([]models.UpstreamAuthorization, 0, len(upstreamIDs))
		seen := make(map[uint64]struct{}, len(upstreamIDs))
		for _, upstreamID := range upstreamIDs {
			if _, dup := seen[upstreamID]; dup {
				continue
			}
			seen[upstreamID] = struct{}{}
			auths = append(auths, models.UpstreamAuthorization{ClientKeyID: key.ID, UpstreamID: upstreamID})
		}
		if len(auths) > 0 {
			if errAuth := tx.Create(&auths).Error; errAuth != nil {
				return fmt.Errorf("store: create authorizations: %w", errAuth)
			}
		}
		key.Authorizations = auths
		return nil
	})
}

// SetClientKeyActive flips the active flag.
func (s *GormStore) SetClientKeyActive(ctx context.Context, id uint64, active bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.ClientKey{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("store: update client key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClientKey hard-deletes a key and its authorizations.
func (s *GormStore) DeleteClientKey(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errAuth := tx.Where("client_key_id = ?", id).Delete(&models.UpstreamAuthorization{}).Error; errAuth != nil {
			return fmt.Errorf("store: delete authorizations: %w", errAuth)
		}
		res := tx.Delete(&models.ClientKey{}, id)
		if res.Error != nil {
			return fmt.Errorf("store: delete client key: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListClientKeys returns a page of keys, newest first, and the total count.
func (s *GormStore) ListClientKeys(ctx context.Context, filter ClientKeyFilter) ([]models.ClientKey, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	page := filter.Page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.ClientKey{})
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+keyword+"%")
		q = q.Where(db.CaseInsensitiveLikeExpr(s.db, "name"), pattern)
	}
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("store: count client keys: %w", errCount)
	}
	var keys []models.ClientKey
	if errFind := q.Preload("Authorizations").
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&keys).Error; errFind != nil {
		return nil, 0, fmt.Errorf("store: list client keys: %w", errFind)
	}
	return keys, total, nil
}
