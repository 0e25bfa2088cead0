package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
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

func (r *repo) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *repo) FindTenantByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).First(&tenant, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *repo) FindMembership(ctx context.Context, tenantID, userID snowflake.ID) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.WithContext(ctx).
		First(&m, "tenant_id = ? AND user_id = ?", tenantID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) ListMembershipsByUser(ctx context.Context, userID snowflake.ID, statuses ...domain.MembershipStatus) ([]domain.Membership, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Select("tenant_memberships.*").
		Joins("JOIN tenants ON tenants.id = tenant_memberships.tenant_id").
		Where("tenant_memberships.user_id = ?", userID).
		Order("tenants.name ASC")
	if len(statuses) > 0 {
		q = q.Where("tenant_memberships.status IN ?", statuses)
	}

	var memberships []domain.Membership
	if err := q.Find(&memberships).Error; err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) ListMembershipsByTenant(ctx context.Context, tenantID snowflake.ID) ([]domain.Membership, error) {
	var memberships []domain.Membership
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) CountMemberships(ctx context.Context, tenantID snowflake.ID, role string, status domain.MembershipStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("tenant_id = ? AND role = ? AND status = ?", tenantID, role, status).
		Count(&count).Error
	return count, err
}

func (r *repo) UpdateMembershipFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	// Map-based Updates bypasses the json serializer on slice columns, so
	// slices must reach the statement already encoded.
	for key, value := range fields {
		if list, ok := value.([]string); ok {
			encoded, err := json.Marshal(list)
			if err != nil {
				return err
			}
			fields[key] = string(encoded)
		}
	}
	return r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) CreateInvites(ctx context.Context, invites []domain.Invite) error {
	if len(invites) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&invites).Error
}

func (r *repo) FindInviteByID(ctx context.Context, id snowflake.ID) (*domain.Invite, error) {
	var invite domain.Invite
	err := r.db.WithContext(ctx).First(&invite, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repo) UpdateInviteFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invite{}).
		Where("id = ?", id).
		Updates(fields).Error
}
