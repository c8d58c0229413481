// Package usage persists one audit record per proxied request.
package usage

import (
	"context"
	"strings"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const recordTimeout = 5 * time.Second

// Event is the outcome of one proxied request.
type Event struct {
	ClientKeyID      *uint64
	UpstreamID       *uint64
	Method           string
	Path             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	StatusCode       int
	Duration         time.Duration
	Error            string
}

// Recorder stores request outcomes.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// GormRecorder writes events to the request_logs table.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder constructs a GormRecorder backed by GORM.
func NewGormRecorder(db *gorm.DB) *GormRecorder { return &GormRecorder{db: db} }

// Record inserts event synchronously. The write gets its own deadline so a
// cancelled client request still produces its log row.
func (r *GormRecorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.db == nil {
		return nil
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	row := toRow(event)
	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("path", event.Path).Warn("usage recorder: failed to persist request log")
		return errCreate
	}
	return nil
}

func toRow(event Event) models.RequestLog {
	totalTokens := event.TotalTokens
	if totalTokens == 0 {
		totalTokens = event.PromptTokens + event.CompletionTokens
	}
	row := models.RequestLog{
		ClientKeyID:      event.ClientKeyID,
		UpstreamID:       event.UpstreamID,
		Method:           strings.ToUpper(strings.TrimSpace(event.Method)),
		Path:             event.Path,
		PromptTokens:     event.PromptTokens,
		CompletionTokens: event.CompletionTokens,
		TotalTokens:      totalTokens,
		StatusCode:       event.StatusCode,
		DurationMs:       event.Duration.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if model := strings.TrimSpace(event.Model); model != "" {
		row.Model = &model
	}
	if msg := strings.TrimSpace(event.Error); msg != "" {
		row.ErrorMessage = &msg
	}
	return row
}

// Discard drops every event.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(context.Context, Event) error { return nil }
