package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

type revisionRow struct {
	ID        uint64
	Active    bool
	UpdatedAt time.Time
}

// UpstreamRevision returns a digest that changes whenever any upstream row changes.
func (s *GormStore) UpstreamRevision(ctx context.Context) (string, error) {
	return s.revision(ctx, &models.Upstream{})
}

// ClientKeyRevision returns a digest that changes whenever any client key is
// created, revoked, reactivated, or deleted.
func (s *GormStore) ClientKeyRevision(ctx context.Context) (string, error) {
	return s.revision(ctx, &models.ClientKey{})
}

func (s *GormStore) revision(ctx context.Context, model any) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var rows []revisionRow
	if errScan := s.db.WithContext(ctx).Model(model).
		Select("id, active, updated_at").
		Order("id ASC").
		Scan(&rows).Error; errScan != nil {
		return "", fmt.Errorf("store: revision: %w", errScan)
	}

	h := sha256.New()
	buf := make([]byte, 0, 64)
	for _, row := range rows {
		buf = buf[:0]
		buf = strconv.AppendUint(buf, row.ID, 10)
		buf = append(buf, ':')
		buf = strconv.AppendBool(buf, row.Active)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, row.UpdatedAt.UnixNano(), 10)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
