package store

import (
	"context"
	"fmt"

	"github.com/router-for-me/AutoRouter/internal/models"
	"gorm.io/gorm"
)

// ActiveUpstreams returns active upstreams in creation order.
func (s *GormStore) ActiveUpstreams(ctx context.Context) ([]models.Upstream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.Upstream
	if errFind := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: active upstreams: %w", errFind)
	}
	return rows, nil
}

// ListUpstreams returns upstreams in creation order, optionally including soft-deleted ones.
func (s *GormStore) ListUpstreams(ctx context.Context, includeInactive bool) ([]models.Upstream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Order("id ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var rows []models.Upstream
	if errFind := q.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list upstreams: %w", errFind)
	}
	return rows, nil
}

// UpstreamByID loads one upstream.
func (s *GormStore) UpstreamByID(ctx context.Context, id uint64) (*models.Upstream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var row models.Upstream
	if errFind := s.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		return nil, notFound(errFind)
	}
	return &row, nil
}

// UpstreamsByIDs loads the upstreams with the given ids, active or not.
func (s *GormStore) UpstreamsByIDs(ctx context.Context, ids []uint64) ([]models.Upstream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Upstream
	if errFind := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: upstreams by ids: %w", errFind)
	}
	return rows, nil
}

// CreateUpstream inserts row. Marking it default clears the flag on every other upstream.
func (s *GormStore) CreateUpstream(ctx context.Context, row *models.Upstream) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createUpstream(tx, row)
	})
}

// CreateUpstreams inserts rows in one transaction.
func (s *GormStore) CreateUpstreams(ctx context.Context, rows []models.Upstream) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if errCreate := createUpstream(tx, &rows[i]); errCreate != nil {
				return errCreate
			}
		}
		return nil
	})
}

func createUpstream(tx *gorm.DB, row *models.Upstream) error {
	if row == nil {
		return fmt.Errorf("store: upstream is nil")
	}
	if row.IsDefault {
		if errClear := clearDefault(tx, 0); errClear != nil {
			return errClear
		}
	}
	if errCreate := tx.Create(row).Error; errCreate != nil {
		if isUniqueViolation(errCreate) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, row.Name)
		}
		return fmt.Errorf("store: create upstream: %w", errCreate)
	}
	return nil
}

// UpdateUpstream applies column updates to one upstream.
func (s *GormStore) UpdateUpstream(ctx context.Context, id uint64, updates map[string]any) (*models.Upstream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var row models.Upstream
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.First(&row, id).Error; errFind != nil {
			return notFound(errFind)
		}
		if isDefault, ok := updates["is_default"].(bool); ok && isDefault {
			if errClear := clearDefault(tx, id); errClear != nil {
				return errClear
			}
		}
		if len(updates) > 0 {
			if errUpdate := tx.Model(&row).Updates(updates).Error; errUpdate != nil {
				if isUniqueViolation(errUpdate) {
					return fmt.Errorf("%w: %v", ErrDuplicateName, updates["name"])
				}
				return fmt.Errorf("store: update upstream: %w", errUpdate)
			}
		}
		return tx.First(&row, id).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// DeleteUpstream soft-deletes an upstream: it stops being loaded but its row and
// authorizations remain for audit.
func (s *GormStore) DeleteUpstream(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Upstream{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "is_default": false})
	if res.Error != nil {
		return fmt.Errorf("store: delete upstream: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeUpstream hard-deletes an upstream and its authorizations.
func (s *GormStore) PurgeUpstream(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errAuth := tx.Where("upstream_id = ?", id).Delete(&models.UpstreamAuthorization{}).Error; errAuth != nil {
			return fmt.Errorf("store: purge authorizations: %w", errAuth)
		}
		res := tx.Delete(&models.Upstream{}, id)
		if res.Error != nil {
			return fmt.Errorf("store: purge upstream: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func clearDefault(tx *gorm.DB, exceptID uint64) error {
	q := tx.Model(&models.Upstream{}).Where("is_default = ?", true)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if errClear := q.Update("is_default", false).Error; errClear != nil {
		return fmt.Errorf("store: clear default upstream: %w", errClear)
	}
	return nil
}
