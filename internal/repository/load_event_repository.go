package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ai-image-detector/internal/model"
)

type LoadEventRepository struct {
	db *gorm.DB
}

func NewLoadEventRepository(db *gorm.DB) *LoadEventRepository {
	return &LoadEventRepository{db: db}
}

func (r *LoadEventRepository) Create(ctx context.Context, event *model.LoadEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create load event failed: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (r *LoadEventRepository) ListRecent(ctx context.Context, limit int) ([]model.LoadEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	var events []model.LoadEvent
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list load events failed: %w", err)
	}
	return events, nil
}
