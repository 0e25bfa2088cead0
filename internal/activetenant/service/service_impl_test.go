package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	"github.com/tribes-rights-management/tribesportal/internal/activetenant/repository"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	identityrepo "github.com/tribes-rights-management/tribesportal/internal/identity/repository"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	tenantrepo "github.com/tribes-rights-management/tribesportal/internal/tenant/repository"
	tenantservice "github.com/tribes-rights-management/tribesportal/internal/tenant/service"
	"github.com/tribes-rights-management/tribesportal/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) Emit(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	svc     domain.Service
	tenants tenantdomain.Service
	conn    *gorm.DB
	node    *snowflake.Node
	userID  snowflake.ID
	session *identitydomain.Session
}

func setup(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&identitydomain.User{}, &identitydomain.Profile{}, &identitydomain.Session{},
		&tenantdomain.Tenant{}, &tenantdomain.Membership{}, &tenantdomain.Invite{},
		&domain.Preference{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	_, profileRepo, sessionRepo, _ := identityrepo.New(conn)
	tenants := tenantservice.New(tenantservice.Params{
		Log:   zap.NewNop(),
		Clock: fc,
		Repo:  tenantrepo.Provide(tenantrepo.Params{DB: conn}),
		Audit: noopAudit{},
		GenID: node,
	})

	svc := New(Params{
		Log:         zap.NewNop(),
		Prefs:       repository.Provide(repository.Params{DB: conn}),
		ProfileRepo: profileRepo,
		SessionRepo: sessionRepo,
		Tenants:     tenants,
		Audit:       noopAudit{},
	})

	userID := node.Generate()
	now := fc.Now()
	require.NoError(t, conn.Create(&identitydomain.Profile{
		UserID:            userID,
		PlatformRole:      "platform_user",
		Status:            "active",
		DensityPreference: "comfortable",
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)

	session := &identitydomain.Session{
		ID:               node.Generate(),
		UserID:           userID,
		SessionTokenHash: "test-hash-" + userID.String(),
		StartedAt:        now,
		LastActivityAt:   now,
		CreatedAt:        now,
	}
	require.NoError(t, conn.Create(session).Error)

	return &fixture{svc: svc, tenants: tenants, conn: conn, node: node, userID: userID, session: session}
}

func (f *fixture) addMembership(t *testing.T, name string, contexts []string, defaultContext *string) tenantdomain.Membership {
	t.Helper()
	ctx := context.Background()

	tenant, err := f.tenants.CreateTenant(ctx, f.userID, tenantdomain.CreateTenantRequest{Name: name})
	require.NoError(t, err)

	m, err := f.tenants.SetMembershipContexts(ctx, tenant.ID, f.userID, contexts, defaultContext)
	require.NoError(t, err)
	return *m
}

func TestResolveActiveTenantPrefersStored(t *testing.T) {
	f := setup(t)

	memberships := []tenantdomain.Membership{
		{TenantID: f.node.Generate()},
		{TenantID: f.node.Generate()},
	}

	stored := memberships[1].TenantID
	picked := f.svc.ResolveActiveTenant(memberships, &stored)
	require.NotNil(t, picked)
	require.Equal(t, stored, picked.TenantID)

	// A stale stored id falls back to the first membership.
	stale := f.node.Generate()
	picked = f.svc.ResolveActiveTenant(memberships, &stale)
	require.NotNil(t, picked)
	require.Equal(t, memberships[0].TenantID, picked.TenantID)

	picked = f.svc.ResolveActiveTenant(memberships, nil)
	require.NotNil(t, picked)
	require.Equal(t, memberships[0].TenantID, picked.TenantID)

	require.Nil(t, f.svc.ResolveActiveTenant(nil, &stored))
}

func TestResolveContextSingleAllowedShortCircuits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	defaultCtx := "licensing"
	m := f.addMembership(t, "Acme", []string{"publishing"}, nil)

	// Seed a stored preference and a default pointing elsewhere: a single
	// allowed context must still win.
	m.DefaultContext = &defaultCtx
	require.NoError(t, f.svc.SetActiveContext(ctx, f.userID, m.TenantID, "licensing"))

	got, err := f.svc.ResolveContextForTenant(ctx, f.userID, &m)
	require.NoError(t, err)
	require.Equal(t, "publishing", got)
}

func TestResolveContextStalePreferenceFallsThrough(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	defaultCtx := "publishing"
	m := f.addMembership(t, "Acme", []string{"licensing", "publishing"}, &defaultCtx)

	// Stored preference valid: it wins over the default.
	require.NoError(t, f.svc.SetActiveContext(ctx, f.userID, m.TenantID, "licensing"))
	got, err := f.svc.ResolveContextForTenant(ctx, f.userID, &m)
	require.NoError(t, err)
	require.Equal(t, "licensing", got)

	// Preference no longer in the allowed set: fall through to the default.
	narrowed := m
	narrowed.Contexts = []string{"publishing"}
	got, err = f.svc.ResolveContextForTenant(ctx, f.userID, &narrowed)
	require.NoError(t, err)
	require.Equal(t, "publishing", got)

	// No default either: first allowed entry.
	noDefault := m
	noDefault.Contexts = []string{"publishing"}
	noDefault.DefaultContext = nil
	require.NoError(t, f.conn.Where("user_id = ?", f.userID).Delete(&domain.Preference{}).Error)
	got, err = f.svc.ResolveContextForTenant(ctx, f.userID, &noDefault)
	require.NoError(t, err)
	require.Equal(t, "publishing", got)
}

func TestResolveContextEmptyAllowedSet(t *testing.T) {
	f := setup(t)

	m := tenantdomain.Membership{TenantID: f.node.Generate()}
	got, err := f.svc.ResolveContextForTenant(context.Background(), f.userID, &m)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolutionPersistsChoice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	defaultCtx := "publishing"
	m := f.addMembership(t, "Acme", []string{"licensing", "publishing"}, &defaultCtx)

	got, err := f.svc.ResolveContextForTenant(ctx, f.userID, &m)
	require.NoError(t, err)
	require.Equal(t, "publishing", got)

	var pref domain.Preference
	require.NoError(t, f.conn.First(&pref, "user_id = ? AND key = ?", f.userID, domain.ContextKey(m.TenantID)).Error)
	require.Equal(t, "publishing", pref.Value)
}

func TestBuildAccessStateResolvesTenantAndContext(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.addMembership(t, "Alpine Records", []string{"licensing", "publishing"}, nil)
	second := f.addMembership(t, "Zenith Music", []string{"licensing"}, nil)

	state, err := f.svc.BuildAccessState(ctx, f.userID, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, state.Profile)
	require.Len(t, state.Memberships, 2)
	require.NotNil(t, state.ActiveTenant)
	require.Equal(t, first.TenantID, state.ActiveTenant.TenantID)
	require.Equal(t, "licensing", state.ActiveContext)

	// The resolution is persisted: a later build starts from it.
	require.NoError(t, f.svc.SetActiveTenant(ctx, f.userID, second.TenantID))
	state, err = f.svc.BuildAccessState(ctx, f.userID, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, second.TenantID, state.ActiveTenant.TenantID)
}

func TestBuildAccessStateDiscardsStaleSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addMembership(t, "Acme", []string{"licensing"}, nil)

	now := time.Now().UTC()
	reason := "manual"
	require.NoError(t, f.conn.Model(&identitydomain.Session{}).
		Where("id = ?", f.session.ID).
		Updates(map[string]any{"revoked_at": now, "revoke_reason": reason}).Error)

	_, err := f.svc.BuildAccessState(ctx, f.userID, f.session.ID)
	require.ErrorIs(t, err, domain.ErrSessionStale)
}

func TestSwitchTenantPreservesSharedContext(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	defaultA := "licensing"
	a := f.addMembership(t, "Alpine Records", []string{"licensing", "publishing"}, &defaultA)
	defaultB := "licensing"
	b := f.addMembership(t, "Zenith Music", []string{"licensing", "publishing"}, &defaultB)

	// Work in publishing on tenant A.
	require.NoError(t, f.svc.SetActiveTenant(ctx, f.userID, a.TenantID))
	require.NoError(t, f.svc.SetActiveContext(ctx, f.userID, a.TenantID, "publishing"))

	// Switching to B keeps publishing because B also allows it, even though
	// B's default says licensing.
	state, err := f.svc.SwitchTenant(ctx, f.userID, f.session.ID, b.TenantID)
	require.NoError(t, err)
	require.Equal(t, b.TenantID, state.ActiveTenant.TenantID)
	require.Equal(t, "publishing", state.ActiveContext)
}

func TestSwitchFromSingleContextTenantUsesTargetResolution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := f.addMembership(t, "Alpine Records", []string{"licensing"}, nil)
	defaultB := "publishing"
	b := f.addMembership(t, "Zenith Music", []string{"licensing", "publishing"}, &defaultB)

	// Tenant A only allows licensing, so resolution pins it without the
	// user ever choosing.
	require.NoError(t, f.svc.SetActiveTenant(ctx, f.userID, a.TenantID))
	resolved, err := f.svc.ResolveContextForTenant(ctx, f.userID, &a)
	require.NoError(t, err)
	require.Equal(t, "licensing", resolved)

	// Switching to B lands on B's own default: the forced context from A
	// was never a choice, so it does not override it.
	state, err := f.svc.SwitchTenant(ctx, f.userID, f.session.ID, b.TenantID)
	require.NoError(t, err)
	require.Equal(t, b.TenantID, state.ActiveTenant.TenantID)
	require.Equal(t, "publishing", state.ActiveContext)
}

func TestSwitchTenantRecomputesWhenContextInvalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := f.addMembership(t, "Alpine Records", []string{"licensing", "publishing"}, nil)
	b := f.addMembership(t, "Zenith Music", []string{"licensing"}, nil)

	require.NoError(t, f.svc.SetActiveTenant(ctx, f.userID, a.TenantID))
	require.NoError(t, f.svc.SetActiveContext(ctx, f.userID, a.TenantID, "publishing"))

	state, err := f.svc.SwitchTenant(ctx, f.userID, f.session.ID, b.TenantID)
	require.NoError(t, err)
	require.Equal(t, "licensing", state.ActiveContext)
}

func TestSwitchTenantRejectsNonMember(t *testing.T) {
	f := setup(t)
	f.addMembership(t, "Acme", []string{"licensing"}, nil)

	_, err := f.svc.SwitchTenant(context.Background(), f.userID, f.session.ID, f.node.Generate())
	require.ErrorIs(t, err, domain.ErrNotAMember)
}
