package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	"github.com/tribes-rights-management/tribesportal/internal/escalation/domain"
	notifdomain "github.com/tribes-rights-management/tribesportal/internal/notification/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const scanBatchSize = 200

type Params struct {
	fx.In

	Log       *zap.Logger
	Policy    *config.PolicyHolder
	Clock     clock.Clock
	Repo      domain.Repository
	NotifRepo notifdomain.Repository
	Audit     auditdomain.Service
	GenID     *snowflake.Node
}

type Service struct {
	log       *zap.Logger
	policy    *config.PolicyHolder
	clock     clock.Clock
	repo      domain.Repository
	notifRepo notifdomain.Repository
	audit     auditdomain.Service
	genID     *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("escalation.service"),
		policy:    p.Policy,
		clock:     p.Clock,
		repo:      p.Repo,
		notifRepo: p.NotifRepo,
		audit:     p.Audit,
		genID:     p.GenID,
	}
}

// matchRule finds the first rule for a (type, priority) pair. No rule
// means the notification never escalates.
func matchRule(rules []config.EscalationRule, notifType, priority string) (config.EscalationRule, bool) {
	for _, rule := range rules {
		if strings.EqualFold(rule.NotificationType, notifType) && strings.EqualFold(rule.Priority, priority) {
			return rule, true
		}
	}
	return config.EscalationRule{}, false
}

func (s *Service) Scan(ctx context.Context) (int, error) {
	rules := s.policy.Escalation()
	now := s.clock.Now()

	// Only rule-covered classes enter the batch: notifications no rule
	// matches would otherwise occupy it on every pass.
	classes := make([]notifdomain.Class, 0, len(rules))
	for _, rule := range rules {
		classes = append(classes, notifdomain.Class{Type: rule.NotificationType, Priority: rule.Priority})
	}

	candidates, err := s.notifRepo.ListUnescalated(ctx, classes, now, scanBatchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, n := range candidates {
		rule, ok := matchRule(rules, n.Type, n.Priority)
		if !ok {
			continue
		}

		deadline := n.CreatedAt.Add(time.Duration(rule.SLAMinutes) * time.Minute)
		if now.Before(deadline) {
			continue
		}

		// A zero SLA escalates at creation: the event carries the
		// notification's own timestamp, not the scan time.
		escalatedAt := now
		if rule.SLAMinutes == 0 {
			escalatedAt = n.CreatedAt
		}

		if err := s.fire(ctx, n, rule, escalatedAt); err != nil {
			s.log.Warn("failed to fire escalation",
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
			continue
		}
		fired++
	}
	return fired, nil
}

func (s *Service) fire(ctx context.Context, n *notifdomain.Notification, rule config.EscalationRule, escalatedAt time.Time) error {
	// The notification stamp is the concurrency guard: a second scanner
	// loses the update and skips the insert.
	stamped, err := s.notifRepo.MarkEscalated(ctx, n.ID, escalatedAt)
	if err != nil {
		return err
	}
	if !stamped {
		return nil
	}

	ev := &domain.Event{
		ID:               s.genID.Generate(),
		NotificationID:   n.ID,
		TenantID:         n.TenantID,
		NotificationType: n.Type,
		Priority:         n.Priority,
		EscalateTo:       rule.EscalateTo,
		SLAMinutes:       rule.SLAMinutes,
		EscalatedAt:      escalatedAt,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, ev); err != nil {
		return err
	}

	eventID := ev.ID.String()
	s.audit.Emit(ctx, &n.TenantID, "scheduler", nil, "escalation.fired", "escalation", &eventID, map[string]any{
		"notification_id":   n.ID.String(),
		"notification_type": n.Type,
		"priority":          n.Priority,
		"escalate_to":       rule.EscalateTo,
		"sla_minutes":       rule.SLAMinutes,
	})
	return nil
}

func (s *Service) Resolve(ctx context.Context, tenantID, id, userID snowflake.ID) (*domain.Event, error) {
	ev, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if ev.ResolvedAt != nil {
		return nil, domain.ErrAlreadyResolved
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, ev.ID, map[string]any{
		"resolved_at": now,
		"resolved_by": userID,
	}); err != nil {
		return nil, err
	}
	ev.ResolvedAt = &now
	ev.ResolvedBy = &userID

	actorID := userID.String()
	eventID := ev.ID.String()
	s.audit.Emit(ctx, &tenantID, "user", &actorID, "escalation.resolved", "escalation", &eventID, map[string]any{
		"notification_id": ev.NotificationID.String(),
	})
	return ev, nil
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
		escalatedAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = &domain.Cursor{ID: id, EscalatedAt: escalatedAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, domain.ListFilter{
		TenantID:       req.TenantID,
		UnresolvedOnly: req.UnresolvedOnly,
		Cursor:         cursor,
		Limit:          pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Event) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.EscalatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	out := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}

	resp := domain.ListResponse{Events: out}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
