// Package domain contains persistence models for the tenant service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant represents a rights-holder organization.
type Tenant struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug" json:"slug"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// MembershipStatus models the membership lifecycle. Memberships are never
// physically deleted; status transitions model lifecycle end.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipPending   MembershipStatus = "pending"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipInvited   MembershipStatus = "invited"
	MembershipDenied    MembershipStatus = "denied"
)

// Membership relates a user to a tenant: a role, a lifecycle status, the
// portal contexts the membership may operate in and an optional default
// context.
type Membership struct {
	ID             snowflake.ID     `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_tenant_user,priority:1" json:"tenant_id"`
	UserID         snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_tenant_user,priority:2" json:"user_id"`
	Role           string           `gorm:"type:text;not null" json:"role"`
	Status         MembershipStatus `gorm:"type:text;not null" json:"status"`
	Contexts       []string         `gorm:"serializer:json;not null" json:"contexts"`
	DefaultContext *string          `gorm:"column:default_context;type:text" json:"default_context,omitempty"`
	CreatedAt      time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "tenant_memberships" }

// InviteStatus models the invitation lifecycle.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
)

// Invite tracks a pending invitation to a tenant.
type Invite struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Email          string       `gorm:"type:text;not null" json:"email"`
	Role           string       `gorm:"type:text;not null" json:"role"`
	Contexts       []string     `gorm:"serializer:json;not null" json:"contexts"`
	DefaultContext *string      `gorm:"column:default_context;type:text" json:"default_context,omitempty"`
	Status         InviteStatus `gorm:"type:text;not null" json:"status"`
	InvitedBy      snowflake.ID `gorm:"column:invited_by;not null;index" json:"invited_by"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invite) TableName() string { return "tenant_invites" }
