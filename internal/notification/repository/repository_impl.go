package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/notification/domain"
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

func (r *repo) Insert(ctx context.Context, n *domain.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *repo) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*domain.Notification, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).
		First(&n, "tenant_id = ? AND id = ?", tenantID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repo) UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.RecipientID != nil {
		q = q.Where("recipient_id = ? OR recipient_id IS NULL", *filter.RecipientID)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if filter.UnresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if filter.Cursor != nil {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []*domain.Notification
	err := q.Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUnescalated(ctx context.Context, classes []domain.Class, cutoff time.Time, limit int) ([]*domain.Notification, error) {
	if len(classes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	clauses := make([]string, 0, len(classes))
	args := make([]any, 0, 2*len(classes))
	for _, class := range classes {
		clauses = append(clauses, "(LOWER(type) = ? AND LOWER(priority) = ?)")
		args = append(args, strings.ToLower(class.Type), strings.ToLower(class.Priority))
	}

	var items []*domain.Notification
	err := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("resolved_at IS NULL AND escalated_at IS NULL AND archived = ?", false).
		Where("created_at <= ?", cutoff).
		Where(strings.Join(clauses, " OR "), args...).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkEscalated(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND escalated_at IS NULL", id).
		Update("escalated_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
