package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/notification/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var priorities = map[string]struct{}{
	domain.PriorityCritical: {},
	domain.PriorityHigh:     {},
	domain.PriorityStandard: {},
	domain.PriorityLow:      {},
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("notification.service"),
		clock: p.Clock,
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Notification, error) {
	notifType := strings.TrimSpace(req.Type)
	if notifType == "" {
		return nil, domain.ErrInvalidType
	}
	priority := strings.ToLower(strings.TrimSpace(req.Priority))
	if _, ok := priorities[priority]; !ok {
		return nil, domain.ErrInvalidPriority
	}
	retention := req.Retention
	if retention != domain.RetentionPermanent {
		retention = domain.RetentionStandard
	}

	n := &domain.Notification{
		ID:                 s.genID.Generate(),
		TenantID:           req.TenantID,
		RecipientID:        req.RecipientID,
		Type:               notifType,
		Priority:           priority,
		Title:              strings.TrimSpace(req.Title),
		Body:               req.Body,
		Metadata:           datatypes.JSONMap(req.Metadata),
		RequiresResolution: req.RequiresResolution,
		Retention:          retention,
		CreatedAt:          s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Acknowledge(ctx context.Context, tenantID, id, userID snowflake.ID) (*domain.Notification, error) {
	n, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	// Acknowledgment is recorded once; repeat calls are no-ops.
	if n.AcknowledgedAt != nil {
		return n, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, n.ID, map[string]any{
		"acknowledged_at": now,
		"acknowledged_by": userID,
	}); err != nil {
		return nil, err
	}
	n.AcknowledgedAt = &now
	n.AcknowledgedBy = &userID
	return n, nil
}

func (s *Service) Resolve(ctx context.Context, tenantID, id, userID snowflake.ID) (*domain.Notification, error) {
	n, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !n.RequiresResolution {
		return nil, domain.ErrNotResolvable
	}
	if n.ResolvedAt != nil {
		return n, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, n.ID, map[string]any{
		"resolved_at": now,
		"resolved_by": userID,
	}); err != nil {
		return nil, err
	}
	n.ResolvedAt = &now
	n.ResolvedBy = &userID
	return n, nil
}

func (s *Service) Archive(ctx context.Context, tenantID, id snowflake.ID) (*domain.Notification, error) {
	n, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n.Archived {
		return n, nil
	}
	if err := s.repo.UpdateFields(ctx, n.ID, map[string]any{"archived": true}); err != nil {
		return nil, err
	}
	n.Archived = true
	return n, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*domain.Notification, error) {
	return s.repo.FindByID(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return domain.ListResponse{}, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, domain.ListFilter{
		TenantID:        req.TenantID,
		RecipientID:     req.RecipientID,
		IncludeArchived: req.IncludeArchived,
		UnresolvedOnly:  req.UnresolvedOnly,
		Cursor:          cursor,
		Limit:           pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Notification) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}

	resp := domain.ListResponse{Notifications: out}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
