package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// CreateTenantRequest creates a tenant; the creating user becomes its first
// active tenant_admin with access to every portal context.
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug"`
}

// InviteMemberRequest invites one email address into a tenant.
type InviteMemberRequest struct {
	Email          string   `json:"email" binding:"required,email"`
	Role           string   `json:"role" binding:"required"`
	Contexts       []string `json:"contexts"`
	DefaultContext *string  `json:"default_context,omitempty"`
}

// ChangeRoleRequest updates a member's tenant role.
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Service manages tenants, memberships and invitations.
type Service interface {
	CreateTenant(ctx context.Context, userID snowflake.ID, req CreateTenantRequest) (*Tenant, error)
	GetTenant(ctx context.Context, tenantID snowflake.ID) (*Tenant, error)

	// ListActiveMemberships returns the caller's active memberships ordered
	// by tenant name. It is the membership universe the tenant resolver
	// picks from.
	ListActiveMemberships(ctx context.Context, userID snowflake.ID) ([]Membership, error)
	// ListMembers returns every membership row of a tenant regardless of
	// status, oldest first.
	ListMembers(ctx context.Context, tenantID snowflake.ID) ([]Membership, error)
	GetMembership(ctx context.Context, tenantID, userID snowflake.ID) (*Membership, error)

	InviteMembers(ctx context.Context, tenantID, inviterID snowflake.ID, reqs []InviteMemberRequest) ([]Invite, error)
	AcceptInvite(ctx context.Context, inviteID, userID snowflake.ID, email string) (*Membership, error)
	RevokeInvite(ctx context.Context, tenantID, inviteID snowflake.ID) error

	ChangeMemberRole(ctx context.Context, tenantID, userID snowflake.ID, role string) (*Membership, error)
	SetMembershipStatus(ctx context.Context, tenantID, userID snowflake.ID, status MembershipStatus) (*Membership, error)
	SetMembershipContexts(ctx context.Context, tenantID, userID snowflake.ID, contexts []string, defaultContext *string) (*Membership, error)
}
