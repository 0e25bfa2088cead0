// Package domain contains the persisted preference model for the
// active-tenant resolver.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Preference is a namespaced per-user preference row. Preferences are a
// cache: every value stored here is re-derivable from memberships, so a
// missing or stale row is never an error.
type Preference struct {
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Key       string       `gorm:"primaryKey;type:text" json:"key"`
	Value     string       `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Preference) TableName() string { return "user_preferences" }

// Preference key namespaces. The per-tenant context preference embeds the
// tenant id in the key.
const KeyActiveTenant = "active_tenant"

// ContextKey is the preference key holding the stored context choice for
// one tenant.
func ContextKey(tenantID snowflake.ID) string {
	return "tenant_context:" + tenantID.String()
}
