package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/escalation/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type repo struct {
	db *gorm.DB
}

func Provide(p Params) domain.Repository {
	return &repo{db: p.DB}
}

func (r *repo) Insert(ctx context.Context, ev *domain.Event) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *repo) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*domain.Event, error) {
	var ev domain.Event
	err := r.db.WithContext(ctx).
		First(&ev, "tenant_id = ? AND id = ?", tenantID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repo) UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Event, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.UnresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if filter.Cursor != nil {
		q = q.Where(
			"(escalated_at < ?) OR (escalated_at = ? AND id < ?)",
			filter.Cursor.EscalatedAt, filter.Cursor.EscalatedAt, filter.Cursor.ID,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []*domain.Event
	err := q.Order("escalated_at DESC, id DESC").
		Limit(limit + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
