package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
)

var (
	ErrNotFound        = errors.New("notification not found")
	ErrInvalidPriority = errors.New("invalid notification priority")
	ErrInvalidType     = errors.New("invalid notification type")
	ErrNotResolvable   = errors.New("notification does not require resolution")
)

type CreateRequest struct {
	TenantID           snowflake.ID
	RecipientID        *snowflake.ID
	Type               string
	Priority           string
	Title              string
	Body               string
	Metadata           map[string]any
	RequiresResolution bool
	Retention          string
}

type ListRequest struct {
	pagination.Pagination
	TenantID        snowflake.ID
	RecipientID     *snowflake.ID
	IncludeArchived bool
	UnresolvedOnly  bool
}

type ListResponse struct {
	pagination.PageInfo
	Notifications []Notification `json:"notifications"`
}

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Notification, error)
	// Acknowledge records that the recipient has seen the notification.
	// It never resolves it.
	Acknowledge(ctx context.Context, tenantID, id, userID snowflake.ID) (*Notification, error)
	// Resolve records completion of the underlying condition. Resolution
	// does not require prior acknowledgment.
	Resolve(ctx context.Context, tenantID, id, userID snowflake.ID) (*Notification, error)
	Archive(ctx context.Context, tenantID, id snowflake.ID) (*Notification, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*Notification, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

// Class identifies a notification category by type and priority.
type Class struct {
	Type     string
	Priority string
}

// Repository persists notifications. There is no delete.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*Notification, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]*Notification, error)
	// ListUnescalated returns unresolved, unescalated, unarchived
	// notifications of the given classes created at or before the cutoff,
	// for the escalation scan. Rows outside the classes never enter the
	// batch, so an unmatched backlog cannot starve it.
	ListUnescalated(ctx context.Context, classes []Class, cutoff time.Time, limit int) ([]*Notification, error)
	// MarkEscalated stamps escalated_at exactly once.
	MarkEscalated(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
}

// Cursor is a decoded keyset position in the created_at/id order.
type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	TenantID        snowflake.ID
	RecipientID     *snowflake.ID
	IncludeArchived bool
	UnresolvedOnly  bool
	Cursor          *Cursor
	Limit           int
}
