package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

//go:generate mockgen -source=repository.go -destination=../repository/mock/mock_repository.go -package=mock

// Repository persists tenants, memberships and invites.
type Repository interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	FindTenantByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	FindTenantBySlug(ctx context.Context, slug string) (*Tenant, error)

	CreateMembership(ctx context.Context, m *Membership) error
	FindMembership(ctx context.Context, tenantID, userID snowflake.ID) (*Membership, error)
	ListMembershipsByUser(ctx context.Context, userID snowflake.ID, statuses ...MembershipStatus) ([]Membership, error)
	ListMembershipsByTenant(ctx context.Context, tenantID snowflake.ID) ([]Membership, error)
	CountMemberships(ctx context.Context, tenantID snowflake.ID, role string, status MembershipStatus) (int64, error)
	UpdateMembershipFields(ctx context.Context, id snowflake.ID, fields map[string]any) error

	CreateInvites(ctx context.Context, invites []Invite) error
	FindInviteByID(ctx context.Context, id snowflake.ID) (*Invite, error)
	UpdateInviteFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}
