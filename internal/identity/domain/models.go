// Package domain contains core types for the identity service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User represents an authenticated principal. The external identity
// boundary owns creation; beyond id and email the provider's user object is
// treated as opaque.
type User struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	ExternalID   string       `gorm:"column:external_id;type:text;not null;uniqueIndex"`
	Email        string       `gorm:"type:text;not null;uniqueIndex"`
	DisplayName  string       `gorm:"column:display_name;type:text;not null"`
	PasswordHash *string      `gorm:"column:password_hash;type:text"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Profile is application-level metadata attached to a user: one per user,
// created on first successful sign-in completion, never deleted. Lifecycle
// end is a status transition.
type Profile struct {
	UserID            snowflake.ID `gorm:"primaryKey;column:user_id"`
	PlatformRole      string       `gorm:"column:platform_role;type:text;not null"`
	Status            string       `gorm:"type:text;not null"`
	DensityPreference string       `gorm:"column:density_preference;type:text;not null"`
	CreatedAt         time.Time    `gorm:"not null"`
	UpdatedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Profile) TableName() string { return "profiles" }

// Session represents a persisted login session. StartedAt anchors the
// absolute lifetime clock; qualifying activity moves LastActivityAt only.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	StartedAt        time.Time    `gorm:"column:started_at;not null"`
	LastActivityAt   time.Time    `gorm:"column:last_activity_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	RevokeReason     *string      `gorm:"column:revoke_reason;type:text"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// SignInToken is a one-time passwordless sign-in token. The raw value is
// mailed to the user; only its hash is stored.
type SignInToken struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Email      string       `gorm:"type:text;not null;index"`
	TokenHash  string       `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	ExpiresAt  time.Time    `gorm:"column:expires_at;not null"`
	ConsumedAt *time.Time   `gorm:"column:consumed_at"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (SignInToken) TableName() string { return "sign_in_tokens" }

// SessionView is returned to clients without exposing token values.
type SessionView struct {
	Metadata map[string]any `json:"metadata"`
}
