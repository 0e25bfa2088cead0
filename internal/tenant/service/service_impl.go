package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Audit auditdomain.Service
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	audit auditdomain.Service
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("tenant.service"),
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
		genID: p.GenID,
	}
}

// tenantActor resolves the acting user from the request context, falling
// back to a nil actor for scheduler-driven updates.
func tenantActor(ctx context.Context) *string {
	if userID, ok := tenantctx.UserIDFromContext(ctx); ok {
		id := userID.String()
		return &id
	}
	return nil
}

func allContexts() []string {
	return []string{string(access.ContextLicensing), string(access.ContextPublishing)}
}

func normalizeContexts(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return allContexts(), nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		pc, ok := access.ParsePortalContext(c)
		if !ok {
			return nil, domain.ErrInvalidContext
		}
		if _, dup := seen[string(pc)]; dup {
			continue
		}
		seen[string(pc)] = struct{}{}
		out = append(out, string(pc))
	}
	return out, nil
}

func validateDefaultContext(contexts []string, defaultContext *string) error {
	if defaultContext == nil {
		return nil
	}
	for _, c := range contexts {
		if c == *defaultContext {
			return nil
		}
	}
	return domain.ErrInvalidContext
}

func (s *Service) CreateTenant(ctx context.Context, userID snowflake.ID, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	slugValue := slug.Make(req.Slug)
	if slugValue == "" {
		slugValue = slug.Make(name)
	}

	now := s.clock.Now()
	tenant := &domain.Tenant{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slugValue,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTenant(ctx, tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Retry once with the ID folded into the slug.
			tenant.Slug = fmt.Sprintf("%s-%s", slugValue, tenant.ID.Base36())
			if retryErr := s.repo.CreateTenant(ctx, tenant); retryErr != nil {
				return nil, retryErr
			}
		} else {
			return nil, err
		}
	}

	// The creator becomes the first admin with every portal context.
	membership := &domain.Membership{
		ID:        s.genID.Generate(),
		TenantID:  tenant.ID,
		UserID:    userID,
		Role:      string(access.TenantAdmin),
		Status:    domain.MembershipActive,
		Contexts:  allContexts(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		return nil, err
	}

	actorID := userID.String()
	s.audit.Emit(ctx, &tenant.ID, "user", &actorID, "tenant.created", "tenant", &actorID, map[string]any{
		"name": tenant.Name,
		"slug": tenant.Slug,
	})
	return tenant, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID snowflake.ID) (*domain.Tenant, error) {
	return s.repo.FindTenantByID(ctx, tenantID)
}

func (s *Service) ListActiveMemberships(ctx context.Context, userID snowflake.ID) ([]domain.Membership, error) {
	return s.repo.ListMembershipsByUser(ctx, userID, domain.MembershipActive)
}

func (s *Service) ListMembers(ctx context.Context, tenantID snowflake.ID) ([]domain.Membership, error) {
	if _, err := s.repo.FindTenantByID(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListMembershipsByTenant(ctx, tenantID)
}

func (s *Service) GetMembership(ctx context.Context, tenantID, userID snowflake.ID) (*domain.Membership, error) {
	return s.repo.FindMembership(ctx, tenantID, userID)
}

func (s *Service) InviteMembers(ctx context.Context, tenantID, inviterID snowflake.ID, reqs []domain.InviteMemberRequest) ([]domain.Invite, error) {
	if _, err := s.repo.FindTenantByID(ctx, tenantID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invites := make([]domain.Invite, 0, len(reqs))
	for _, req := range reqs {
		role, ok := access.ParseTenantRole(req.Role)
		if !ok {
			return nil, domain.ErrInvalidRole
		}
		contexts, err := normalizeContexts(req.Contexts)
		if err != nil {
			return nil, err
		}
		if err := validateDefaultContext(contexts, req.DefaultContext); err != nil {
			return nil, err
		}
		invites = append(invites, domain.Invite{
			ID:             s.genID.Generate(),
			TenantID:       tenantID,
			Email:          strings.ToLower(strings.TrimSpace(req.Email)),
			Role:           string(role),
			Contexts:       contexts,
			DefaultContext: req.DefaultContext,
			Status:         domain.InvitePending,
			InvitedBy:      inviterID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := s.repo.CreateInvites(ctx, invites); err != nil {
		return nil, err
	}

	actorID := inviterID.String()
	for i := range invites {
		inviteID := invites[i].ID.String()
		s.audit.Emit(ctx, &tenantID, "user", &actorID, "tenant.member_invited", "invite", &inviteID, map[string]any{
			"email": invites[i].Email,
			"role":  invites[i].Role,
		})
	}
	return invites, nil
}

func (s *Service) AcceptInvite(ctx context.Context, inviteID, userID snowflake.ID, email string) (*domain.Membership, error) {
	invite, err := s.repo.FindInviteByID(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if invite.Status != domain.InvitePending {
		return nil, domain.ErrInviteConsumed
	}
	if !strings.EqualFold(invite.Email, strings.TrimSpace(email)) {
		return nil, domain.ErrInviteEmailMismatch
	}
	if existing, err := s.repo.FindMembership(ctx, invite.TenantID, userID); err == nil && existing.Status == domain.MembershipActive {
		return nil, domain.ErrAlreadyMember
	}

	now := s.clock.Now()
	membership := &domain.Membership{
		ID:             s.genID.Generate(),
		TenantID:       invite.TenantID,
		UserID:         userID,
		Role:           invite.Role,
		Status:         domain.MembershipActive,
		Contexts:       invite.Contexts,
		DefaultContext: invite.DefaultContext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, err
	}

	if err := s.repo.UpdateInviteFields(ctx, invite.ID, map[string]any{
		"status":     domain.InviteAccepted,
		"updated_at": now,
	}); err != nil {
		s.log.Warn("failed to mark invite accepted",
			zap.String("invite_id", invite.ID.String()),
			zap.Error(err),
		)
	}

	actorID := userID.String()
	membershipID := membership.ID.String()
	s.audit.Emit(ctx, &invite.TenantID, "user", &actorID, "tenant.invite_accepted", "membership", &membershipID, map[string]any{
		"role": membership.Role,
	})
	return membership, nil
}

func (s *Service) RevokeInvite(ctx context.Context, tenantID, inviteID snowflake.ID) error {
	invite, err := s.repo.FindInviteByID(ctx, inviteID)
	if err != nil {
		return err
	}
	if invite.TenantID != tenantID {
		return domain.ErrInviteNotFound
	}
	if invite.Status != domain.InvitePending {
		return domain.ErrInviteConsumed
	}
	return s.repo.UpdateInviteFields(ctx, inviteID, map[string]any{
		"status":     domain.InviteRevoked,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) ChangeMemberRole(ctx context.Context, tenantID, userID snowflake.ID, rawRole string) (*domain.Membership, error) {
	role, ok := access.ParseTenantRole(rawRole)
	if !ok {
		return nil, domain.ErrInvalidRole
	}
	membership, err := s.repo.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	// Demoting the last active admin would orphan the tenant.
	if membership.Role == string(access.TenantAdmin) && role != access.TenantAdmin {
		if err := s.ensureNotLastAdmin(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	if err := s.repo.UpdateMembershipFields(ctx, membership.ID, map[string]any{
		"role":       string(role),
		"updated_at": now,
	}); err != nil {
		return nil, err
	}

	previousRole := membership.Role
	membership.Role = string(role)
	membership.UpdatedAt = now

	actor := tenantActor(ctx)
	memberUserID := userID.String()
	s.audit.Emit(ctx, &tenantID, "user", actor, "tenant.member_role_changed", "membership", &memberUserID, map[string]any{
		"from": previousRole,
		"to":   string(role),
	})
	return membership, nil
}

func (s *Service) SetMembershipStatus(ctx context.Context, tenantID, userID snowflake.ID, status domain.MembershipStatus) (*domain.Membership, error) {
	switch status {
	case domain.MembershipActive, domain.MembershipSuspended, domain.MembershipDenied:
	default:
		return nil, domain.ErrInvalidStatus
	}
	membership, err := s.repo.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if membership.Role == string(access.TenantAdmin) &&
		membership.Status == domain.MembershipActive &&
		status != domain.MembershipActive {
		if err := s.ensureNotLastAdmin(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	if err := s.repo.UpdateMembershipFields(ctx, membership.ID, map[string]any{
		"status":     status,
		"updated_at": now,
	}); err != nil {
		return nil, err
	}

	previous := membership.Status
	membership.Status = status
	membership.UpdatedAt = now

	actor := tenantActor(ctx)
	memberUserID := userID.String()
	s.audit.Emit(ctx, &tenantID, "user", actor, "tenant.member_status_changed", "membership", &memberUserID, map[string]any{
		"from": string(previous),
		"to":   string(status),
	})
	return membership, nil
}

func (s *Service) SetMembershipContexts(ctx context.Context, tenantID, userID snowflake.ID, contexts []string, defaultContext *string) (*domain.Membership, error) {
	normalized, err := normalizeContexts(contexts)
	if err != nil {
		return nil, err
	}
	if err := validateDefaultContext(normalized, defaultContext); err != nil {
		return nil, err
	}
	membership, err := s.repo.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateMembershipFields(ctx, membership.ID, map[string]any{
		"contexts":        normalized,
		"default_context": defaultContext,
		"updated_at":      now,
	}); err != nil {
		return nil, err
	}
	membership.Contexts = normalized
	membership.DefaultContext = defaultContext
	membership.UpdatedAt = now
	return membership, nil
}

func (s *Service) ensureNotLastAdmin(ctx context.Context, tenantID snowflake.ID) error {
	count, err := s.repo.CountMemberships(ctx, tenantID, string(access.TenantAdmin), domain.MembershipActive)
	if err != nil {
		return err
	}
	if count <= 1 {
		return domain.ErrLastAdmin
	}
	return nil
}
