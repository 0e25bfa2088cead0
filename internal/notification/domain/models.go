// Package domain contains the notification records and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Priority levels recognized by the escalation rule table.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityStandard = "standard"
	PriorityLow      = "low"
)

// Retention categories. Permanent notifications fall under audit
// retention and are excluded from any future pruning.
const (
	RetentionStandard  = "standard"
	RetentionPermanent = "permanent"
)

// Notification is an append-only record. Acknowledgment and resolution
// are independent facts: acknowledging never implies resolving, and a
// requires_resolution notification stays undismissible until resolved.
// Rows are never deleted; archiving is a flag.
type Notification struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID      `gorm:"not null;index:ix_notifications_tenant" json:"tenant_id"`
	RecipientID        *snowflake.ID     `gorm:"column:recipient_id;index" json:"recipient_id,omitempty"`
	Type               string            `gorm:"type:text;not null" json:"type"`
	Priority           string            `gorm:"type:text;not null" json:"priority"`
	Title              string            `gorm:"type:text;not null" json:"title"`
	Body               string            `gorm:"type:text" json:"body"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	RequiresResolution bool              `gorm:"column:requires_resolution;not null" json:"requires_resolution"`
	Retention          string            `gorm:"type:text;not null" json:"retention"`
	AcknowledgedAt     *time.Time        `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy     *snowflake.ID     `gorm:"column:acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedAt         *time.Time        `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy         *snowflake.ID     `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	EscalatedAt        *time.Time        `gorm:"column:escalated_at;index" json:"escalated_at,omitempty"`
	Archived           bool              `gorm:"not null" json:"archived"`
	CreatedAt          time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

// CanDismiss reports whether the recipient may dismiss the notification.
// A requires_resolution notification is dismissible only once resolved,
// regardless of acknowledgment.
func (n *Notification) CanDismiss() bool {
	if n.RequiresResolution {
		return n.ResolvedAt != nil
	}
	return true
}
