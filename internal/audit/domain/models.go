// Package domain contains core types for the audit service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType classifies who performed an audited action.
type ActorType string

const (
	ActorTypeUser      ActorType = "user"
	ActorTypeSystem    ActorType = "system"
	ActorTypeScheduler ActorType = "scheduler"
)

// AuditLog is one immutable audit event. IDs are ULIDs so events sort by
// emission time without a separate sequence.
type AuditLog struct {
	ID         string            `gorm:"primaryKey;type:text"`
	TenantID   *snowflake.ID     `gorm:"column:tenant_id;index"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null"`
	ActorID    *string           `gorm:"column:actor_id;type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"column:target_type;type:text;not null"`
	TargetID   *string           `gorm:"column:target_id;type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	IPAddress  *string           `gorm:"column:ip_address;type:text"`
	UserAgent  *string           `gorm:"column:user_agent;type:text"`
	CreatedAt  time.Time         `gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor is the keyset position for audit pagination.
type AuditCursor struct {
	ID        string
	CreatedAt time.Time
}

// ListFilter narrows an audit listing.
type ListFilter struct {
	TenantID   snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
