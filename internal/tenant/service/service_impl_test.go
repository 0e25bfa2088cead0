package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"github.com/tribes-rights-management/tribesportal/internal/tenant/repository"
	"github.com/tribes-rights-management/tribesportal/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditRecorder struct {
	actions []string
}

func (a *auditRecorder) Emit(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

func (a *auditRecorder) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func setupService(t *testing.T) (domain.Service, *auditRecorder, *clock.FakeClock, *snowflake.Node, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Tenant{}, &domain.Membership{}, &domain.Invite{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	audit := &auditRecorder{}
	svc := New(Params{
		Log:   zap.NewNop(),
		Clock: fc,
		Repo:  repository.Provide(repository.Params{DB: conn}),
		Audit: audit,
		GenID: node,
	})
	return svc, audit, fc, node, conn
}

func TestCreateTenantMakesCreatorAdmin(t *testing.T) {
	svc, audit, _, node, _ := setupService(t)
	ctx := context.Background()
	userID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, userID, domain.CreateTenantRequest{Name: "Northfield Rights Group"})
	require.NoError(t, err)
	require.Equal(t, "northfield-rights-group", tenant.Slug)

	m, err := svc.GetMembership(ctx, tenant.ID, userID)
	require.NoError(t, err)
	require.Equal(t, string(access.TenantAdmin), m.Role)
	require.Equal(t, domain.MembershipActive, m.Status)
	require.ElementsMatch(t, []string{"licensing", "publishing"}, m.Contexts)
	require.Contains(t, audit.actions, "tenant.created")
}

func TestCreateTenantRejectsEmptyName(t *testing.T) {
	svc, _, _, node, _ := setupService(t)

	_, err := svc.CreateTenant(context.Background(), node.Generate(), domain.CreateTenantRequest{Name: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestCreateTenantSlugCollisionGetsSuffix(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.CreateTenant(ctx, node.Generate(), domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	second, err := svc.CreateTenant(ctx, node.Generate(), domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)
	require.NotEqual(t, first.Slug, second.Slug)
	require.Contains(t, second.Slug, "acme-")
}

func TestInviteAndAccept(t *testing.T) {
	svc, audit, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	defaultCtx := "licensing"
	invites, err := svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email:          "Artist@Example.com",
		Role:           "tenant_user",
		Contexts:       []string{"licensing"},
		DefaultContext: &defaultCtx,
	}})
	require.NoError(t, err)
	require.Len(t, invites, 1)
	require.Equal(t, "artist@example.com", invites[0].Email)

	newUser := node.Generate()
	m, err := svc.AcceptInvite(ctx, invites[0].ID, newUser, "artist@example.com")
	require.NoError(t, err)
	require.Equal(t, "tenant_user", m.Role)
	require.Equal(t, []string{"licensing"}, m.Contexts)
	require.NotNil(t, m.DefaultContext)
	require.Equal(t, "licensing", *m.DefaultContext)

	// A consumed invite cannot be accepted again.
	_, err = svc.AcceptInvite(ctx, invites[0].ID, node.Generate(), "artist@example.com")
	require.ErrorIs(t, err, domain.ErrInviteConsumed)

	require.Contains(t, audit.actions, "tenant.member_invited")
	require.Contains(t, audit.actions, "tenant.invite_accepted")
}

func TestAcceptInviteWrongEmail(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	invites, err := svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email: "artist@example.com",
		Role:  "viewer",
	}})
	require.NoError(t, err)

	_, err = svc.AcceptInvite(ctx, invites[0].ID, node.Generate(), "someone-else@example.com")
	require.ErrorIs(t, err, domain.ErrInviteEmailMismatch)
}

func TestInviteRejectsUnknownRoleAndContext(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email: "x@example.com",
		Role:  "superuser",
	}})
	require.ErrorIs(t, err, domain.ErrInvalidRole)

	_, err = svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email:    "x@example.com",
		Role:     "viewer",
		Contexts: []string{"billing"},
	}})
	require.ErrorIs(t, err, domain.ErrInvalidContext)
}

func TestChangeMemberRole(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	invites, err := svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email: "member@example.com",
		Role:  "viewer",
	}})
	require.NoError(t, err)

	memberID := node.Generate()
	_, err = svc.AcceptInvite(ctx, invites[0].ID, memberID, "member@example.com")
	require.NoError(t, err)

	m, err := svc.ChangeMemberRole(ctx, tenant.ID, memberID, "tenant_admin")
	require.NoError(t, err)
	require.Equal(t, "tenant_admin", m.Role)

	// With two admins, the original admin may step down.
	m, err = svc.ChangeMemberRole(ctx, tenant.ID, adminID, "tenant_user")
	require.NoError(t, err)
	require.Equal(t, "tenant_user", m.Role)
}

func TestLastAdminCannotBeDemotedOrSuspended(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.ChangeMemberRole(ctx, tenant.ID, adminID, "viewer")
	require.ErrorIs(t, err, domain.ErrLastAdmin)

	_, err = svc.SetMembershipStatus(ctx, tenant.ID, adminID, domain.MembershipSuspended)
	require.ErrorIs(t, err, domain.ErrLastAdmin)
}

func TestSetMembershipStatusTransitions(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	invites, err := svc.InviteMembers(ctx, tenant.ID, adminID, []domain.InviteMemberRequest{{
		Email: "member@example.com",
		Role:  "tenant_user",
	}})
	require.NoError(t, err)
	memberID := node.Generate()
	_, err = svc.AcceptInvite(ctx, invites[0].ID, memberID, "member@example.com")
	require.NoError(t, err)

	m, err := svc.SetMembershipStatus(ctx, tenant.ID, memberID, domain.MembershipSuspended)
	require.NoError(t, err)
	require.Equal(t, domain.MembershipSuspended, m.Status)

	// Suspended memberships disappear from the active list but the row stays.
	active, err := svc.ListActiveMemberships(ctx, memberID)
	require.NoError(t, err)
	require.Empty(t, active)

	m, err = svc.GetMembership(ctx, tenant.ID, memberID)
	require.NoError(t, err)
	require.Equal(t, domain.MembershipSuspended, m.Status)

	_, err = svc.SetMembershipStatus(ctx, tenant.ID, memberID, domain.MembershipStatus("deleted"))
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestSetMembershipContexts(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	defaultCtx := "publishing"
	m, err := svc.SetMembershipContexts(ctx, tenant.ID, adminID, []string{"publishing"}, &defaultCtx)
	require.NoError(t, err)
	require.Equal(t, []string{"publishing"}, m.Contexts)

	// Default context must be one of the allowed contexts.
	bad := "licensing"
	_, err = svc.SetMembershipContexts(ctx, tenant.ID, adminID, []string{"publishing"}, &bad)
	require.ErrorIs(t, err, domain.ErrInvalidContext)
}

func TestSetMembershipContextsRoundTripsThroughStorage(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	adminID := node.Generate()

	tenant, err := svc.CreateTenant(ctx, adminID, domain.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	// A multi-entry list must survive the update and read back as the
	// same list, not as a mangled scalar.
	_, err = svc.SetMembershipContexts(ctx, tenant.ID, adminID, []string{"licensing", "publishing"}, nil)
	require.NoError(t, err)

	stored, err := svc.GetMembership(ctx, tenant.ID, adminID)
	require.NoError(t, err)
	require.Equal(t, []string{"licensing", "publishing"}, stored.Contexts)

	_, err = svc.SetMembershipContexts(ctx, tenant.ID, adminID, []string{"licensing"}, nil)
	require.NoError(t, err)

	stored, err = svc.GetMembership(ctx, tenant.ID, adminID)
	require.NoError(t, err)
	require.Equal(t, []string{"licensing"}, stored.Contexts)
}

func TestListActiveMembershipsOrderedByTenantName(t *testing.T) {
	svc, _, _, node, _ := setupService(t)
	ctx := context.Background()
	userID := node.Generate()

	for _, name := range []string{"Zenith Music", "Alpine Records", "Mercury Publishing"} {
		_, err := svc.CreateTenant(ctx, userID, domain.CreateTenantRequest{Name: name})
		require.NoError(t, err)
	}

	memberships, err := svc.ListActiveMemberships(ctx, userID)
	require.NoError(t, err)
	require.Len(t, memberships, 3)

	names := make([]string, 0, len(memberships))
	for _, m := range memberships {
		tenant, err := svc.GetTenant(ctx, m.TenantID)
		require.NoError(t, err)
		names = append(names, tenant.Name)
	}
	require.Equal(t, []string{"Alpine Records", "Mercury Publishing", "Zenith Music"}, names)
}
