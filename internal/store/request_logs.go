package store

import (
	"context"
	"fmt"

	"github.com/router-for-me/AutoRouter/internal/models"
)

// RequestLogFilter narrows ListRequestLogs.
type RequestLogFilter struct {
	Page
	ClientKeyID *uint64
	UpstreamID  *uint64
	StatusCode  *int
}

// ListRequestLogs returns a page of request logs, newest first, and the total count.
func (s *GormStore) ListRequestLogs(ctx context.Context, filter RequestLogFilter) ([]models.RequestLog, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	page := filter.Page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.RequestLog{})
	if filter.ClientKeyID != nil {
		q = q.Where("client_key_id = ?", *filter.ClientKeyID)
	}
	if filter.UpstreamID != nil {
		q = q.Where("upstream_id = ?", *filter.UpstreamID)
	}
	if filter.StatusCode != nil {
		q = q.Where("status_code = ?", *filter.StatusCode)
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("store: count request logs: %w", errCount)
	}
	var rows []models.RequestLog
	if errFind := q.Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("store: list request logs: %w", errFind)
	}
	return rows, total, nil
}
