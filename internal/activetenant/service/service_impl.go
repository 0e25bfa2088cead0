package service

import (
	"context"
	"slices"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	"github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Prefs       domain.PreferenceRepository
	ProfileRepo identitydomain.ProfileRepository
	SessionRepo identitydomain.SessionRepository
	Tenants     tenantdomain.Service
	Audit       auditdomain.Service
}

type Service struct {
	log         *zap.Logger
	prefs       domain.PreferenceRepository
	profileRepo identitydomain.ProfileRepository
	sessionRepo identitydomain.SessionRepository
	tenants     tenantdomain.Service
	audit       auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("activetenant.service"),
		prefs:       p.Prefs,
		profileRepo: p.ProfileRepo,
		sessionRepo: p.SessionRepo,
		tenants:     p.Tenants,
		audit:       p.Audit,
	}
}

func (s *Service) BuildAccessState(ctx context.Context, userID, sessionID snowflake.ID) (*domain.AccessState, error) {
	profile, memberships, err := s.loadProfileAndMemberships(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	storedTenantID := s.storedActiveTenant(ctx, userID)
	active := s.ResolveActiveTenant(memberships, storedTenantID)

	state := &domain.AccessState{
		UserID:       userID,
		Profile:      profile,
		Memberships:  memberships,
		ActiveTenant: active,
	}
	if active == nil {
		return state, nil
	}

	if storedTenantID == nil || *storedTenantID != active.TenantID {
		if err := s.SetActiveTenant(ctx, userID, active.TenantID); err != nil {
			s.log.Warn("failed to persist resolved tenant", zap.Error(err))
		}
	}

	portalContext, err := s.ResolveContextForTenant(ctx, userID, active)
	if err != nil {
		return nil, err
	}
	state.ActiveContext = portalContext
	return state, nil
}

// loadProfileAndMemberships issues the profile and membership loads
// concurrently and combines the results only after both complete. The
// session is rechecked after the join so a sign-out racing the loads
// cannot hand back state derived from a dead session.
func (s *Service) loadProfileAndMemberships(ctx context.Context, userID, sessionID snowflake.ID) (*identitydomain.Profile, []tenantdomain.Membership, error) {
	var (
		profile     *identitydomain.Profile
		memberships []tenantdomain.Membership
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = s.profileRepo.FindByUserID(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		memberships, err = s.tenants.ListActiveMemberships(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	session, err := s.sessionRepo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, nil, domain.ErrSessionStale
	}
	if session.RevokedAt != nil {
		return nil, nil, domain.ErrSessionStale
	}
	return profile, memberships, nil
}

func (s *Service) ResolveActiveTenant(memberships []tenantdomain.Membership, storedTenantID *snowflake.ID) *tenantdomain.Membership {
	if len(memberships) == 0 {
		return nil
	}
	if storedTenantID != nil {
		for i := range memberships {
			if memberships[i].TenantID == *storedTenantID {
				return &memberships[i]
			}
		}
	}
	return &memberships[0]
}

func (s *Service) ResolveContextForTenant(ctx context.Context, userID snowflake.ID, membership *tenantdomain.Membership) (string, error) {
	if membership == nil || len(membership.Contexts) == 0 {
		return "", nil
	}

	chosen := s.pickContext(ctx, userID, membership)
	if chosen == "" {
		return "", nil
	}

	// Persist the resolution so the next visit starts from it.
	if err := s.SetActiveContext(ctx, userID, membership.TenantID, chosen); err != nil {
		s.log.Warn("failed to persist context preference",
			zap.String("tenant_id", membership.TenantID.String()),
			zap.Error(err),
		)
	}
	return chosen, nil
}

// pickContext applies the resolution priority: a single allowed context
// wins outright, then a still-valid stored preference, then the membership
// default, then the first allowed entry.
func (s *Service) pickContext(ctx context.Context, userID snowflake.ID, membership *tenantdomain.Membership) string {
	allowed := membership.Contexts
	if len(allowed) == 1 {
		return allowed[0]
	}

	if stored, ok, err := s.prefs.Get(ctx, userID, domain.ContextKey(membership.TenantID)); err != nil {
		s.log.Warn("failed to read context preference", zap.Error(err))
	} else if ok && slices.Contains(allowed, stored) {
		return stored
	}

	if membership.DefaultContext != nil && slices.Contains(allowed, *membership.DefaultContext) {
		return *membership.DefaultContext
	}
	return allowed[0]
}

func (s *Service) SwitchTenant(ctx context.Context, userID, sessionID, tenantID snowflake.ID) (*domain.AccessState, error) {
	profile, memberships, err := s.loadProfileAndMemberships(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	var target *tenantdomain.Membership
	for i := range memberships {
		if memberships[i].TenantID == tenantID {
			target = &memberships[i]
			break
		}
	}
	if target == nil {
		return nil, domain.ErrNotAMember
	}

	// Stability rule: keep the context the user is already working in when
	// the new tenant also allows it, instead of recomputing from scratch.
	// A context forced by a single-entry allowed set was never a choice
	// and does not carry over, so the new tenant's own resolution wins.
	previousContext := ""
	if prev := s.previousMembership(ctx, userID, memberships); prev != nil && len(prev.Contexts) > 1 {
		previousContext = s.currentContext(ctx, userID)
	}
	var portalContext string
	if previousContext != "" && slices.Contains(target.Contexts, previousContext) {
		portalContext = previousContext
		if err := s.SetActiveContext(ctx, userID, tenantID, portalContext); err != nil {
			s.log.Warn("failed to persist context preference", zap.Error(err))
		}
	} else {
		portalContext, err = s.ResolveContextForTenant(ctx, userID, target)
		if err != nil {
			return nil, err
		}
	}

	if err := s.SetActiveTenant(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	actorID := userID.String()
	s.audit.Emit(ctx, &tenantID, "user", &actorID, "tenant.switched", "tenant", &actorID, map[string]any{
		"context": portalContext,
	})

	return &domain.AccessState{
		UserID:        userID,
		Profile:       profile,
		Memberships:   memberships,
		ActiveTenant:  target,
		ActiveContext: portalContext,
	}, nil
}

func (s *Service) SetActiveTenant(ctx context.Context, userID, tenantID snowflake.ID) error {
	return s.prefs.Put(ctx, userID, domain.KeyActiveTenant, tenantID.String())
}

func (s *Service) SetActiveContext(ctx context.Context, userID, tenantID snowflake.ID, portalContext string) error {
	if _, ok := access.ParsePortalContext(portalContext); !ok {
		return domain.ErrContextDenied
	}
	return s.prefs.Put(ctx, userID, domain.ContextKey(tenantID), portalContext)
}

func (s *Service) storedActiveTenant(ctx context.Context, userID snowflake.ID) *snowflake.ID {
	raw, ok, err := s.prefs.Get(ctx, userID, domain.KeyActiveTenant)
	if err != nil {
		s.log.Warn("failed to read tenant preference", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}

// currentContext reads the context preference stored for the currently
// active tenant, if any.
func (s *Service) currentContext(ctx context.Context, userID snowflake.ID) string {
	tenantID := s.storedActiveTenant(ctx, userID)
	if tenantID == nil {
		return ""
	}
	raw, ok, err := s.prefs.Get(ctx, userID, domain.ContextKey(*tenantID))
	if err != nil || !ok {
		return ""
	}
	return raw
}

// previousMembership returns the membership of the tenant the user is
// switching away from, when it is still in the active set.
func (s *Service) previousMembership(ctx context.Context, userID snowflake.ID, memberships []tenantdomain.Membership) *tenantdomain.Membership {
	tenantID := s.storedActiveTenant(ctx, userID)
	if tenantID == nil {
		return nil
	}
	for i := range memberships {
		if memberships[i].TenantID == *tenantID {
			return &memberships[i]
		}
	}
	return nil
}
