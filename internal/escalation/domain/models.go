// Package domain contains the escalation event records and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
)

var (
	ErrNotFound        = errors.New("escalation not found")
	ErrAlreadyResolved = errors.New("escalation already resolved")
)

// Event records one SLA breach. Events are immutable once written; only
// the resolution pair may be set, exactly once.
type Event struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	NotificationID   snowflake.ID  `gorm:"column:notification_id;not null;uniqueIndex" json:"notification_id"`
	TenantID         snowflake.ID  `gorm:"not null;index" json:"tenant_id"`
	NotificationType string        `gorm:"column:notification_type;type:text;not null" json:"notification_type"`
	Priority         string        `gorm:"type:text;not null" json:"priority"`
	EscalateTo       string        `gorm:"column:escalate_to;type:text;not null" json:"escalate_to"`
	SLAMinutes       int           `gorm:"column:sla_minutes;not null" json:"sla_minutes"`
	EscalatedAt      time.Time     `gorm:"column:escalated_at;not null;index" json:"escalated_at"`
	ResolvedAt       *time.Time    `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy       *snowflake.ID `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "escalation_events" }

type ListRequest struct {
	pagination.Pagination
	TenantID       snowflake.ID
	UnresolvedOnly bool
}

type ListResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

//go:generate mockgen -source=models.go -destination=../mocks/mock_service.go -package=mocks
type Service interface {
	// Scan runs one engine pass over unresolved, unescalated notifications
	// and fires every rule whose SLA has elapsed. Returns the number of
	// escalations fired.
	Scan(ctx context.Context) (int, error)
	Resolve(ctx context.Context, tenantID, id, userID snowflake.ID) (*Event, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

// Cursor is a decoded keyset position in the escalated_at/id order.
type Cursor struct {
	ID          snowflake.ID
	EscalatedAt time.Time
}

type ListFilter struct {
	TenantID       snowflake.ID
	UnresolvedOnly bool
	Cursor         *Cursor
	Limit          int
}

type Repository interface {
	Insert(ctx context.Context, ev *Event) error
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*Event, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]*Event, error)
}
