package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/audit/repository"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/pkg/db"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
	"go.uber.org/zap"
)

func setupAudit(t *testing.T) (domain.Service, *clock.FakeClock, snowflake.ID) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Log:   zap.NewNop(),
		Clock: fc,
		Repo:  repository.Provide(conn),
	})
	return svc, fc, node.Generate()
}

func tenantContext(tenantID snowflake.ID) context.Context {
	return tenantctx.WithTenantID(context.Background(), tenantID)
}

func TestEmitRejectsEmptyAction(t *testing.T) {
	svc, _, tenantID := setupAudit(t)

	err := svc.Emit(tenantContext(tenantID), nil, "user", nil, "  ", "tenant", nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestEmitResolvesActorAndTenantFromContext(t *testing.T) {
	svc, _, tenantID := setupAudit(t)
	ctx := tenantctx.WithActor(tenantContext(tenantID), "user", "42")
	ctx = tenantctx.WithRequestMeta(ctx, tenantctx.RequestMeta{
		RequestID: "req-1",
		IPAddress: "203.0.113.9",
		UserAgent: "portal-test",
	})

	require.NoError(t, svc.Emit(ctx, nil, "", nil, "tenant.created", "tenant", nil, map[string]any{"name": "Acme"}))

	resp, err := svc.List(ctx, domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	require.Equal(t, "tenant.created", entry.Action)
	require.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	require.Equal(t, "42", *entry.ActorID)
	require.NotNil(t, entry.TenantID)
	require.Equal(t, tenantID, *entry.TenantID)
	require.Equal(t, "Acme", entry.Metadata["name"])
	require.Equal(t, "req-1", entry.Metadata["request_id"])
	require.NotNil(t, entry.IPAddress)
	require.Equal(t, "203.0.113.9", *entry.IPAddress)
}

func TestEmitDefaultsToSystemActor(t *testing.T) {
	svc, _, tenantID := setupAudit(t)
	ctx := tenantContext(tenantID)

	require.NoError(t, svc.Emit(ctx, &tenantID, "", nil, "session.swept", "session", nil, nil))

	resp, err := svc.List(ctx, domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, string(domain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	require.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestListRequiresTenantScope(t *testing.T) {
	svc, _, _ := setupAudit(t)

	_, err := svc.List(context.Background(), domain.ListAuditLogRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestListNeverCrossesTenants(t *testing.T) {
	svc, _, tenantID := setupAudit(t)
	other := tenantID + 1

	require.NoError(t, svc.Emit(tenantContext(tenantID), &tenantID, "user", nil, "tenant.created", "tenant", nil, nil))
	require.NoError(t, svc.Emit(tenantContext(other), &other, "user", nil, "tenant.created", "tenant", nil, nil))

	resp, err := svc.List(tenantContext(tenantID), domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, tenantID, *resp.AuditLogs[0].TenantID)
}

func TestListFiltersByActionAndWindow(t *testing.T) {
	svc, fc, tenantID := setupAudit(t)
	ctx := tenantContext(tenantID)

	require.NoError(t, svc.Emit(ctx, &tenantID, "user", nil, "member.invited", "invite", nil, nil))
	fc.Advance(time.Hour)
	require.NoError(t, svc.Emit(ctx, &tenantID, "user", nil, "member.role_changed", "membership", nil, nil))

	resp, err := svc.List(ctx, domain.ListAuditLogRequest{Action: "member.invited"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, "member.invited", resp.AuditLogs[0].Action)

	start := fc.Now().Add(-30 * time.Minute)
	resp, err = svc.List(ctx, domain.ListAuditLogRequest{StartAt: &start})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, "member.role_changed", resp.AuditLogs[0].Action)

	end := start
	badStart := fc.Now()
	_, err = svc.List(ctx, domain.ListAuditLogRequest{StartAt: &badStart, EndAt: &end})
	require.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestListPaginatesWithCursor(t *testing.T) {
	svc, fc, tenantID := setupAudit(t)
	ctx := tenantContext(tenantID)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Emit(ctx, &tenantID, "user", nil, fmt.Sprintf("step.%d", i), "tenant", nil, nil))
		fc.Advance(time.Minute)
	}

	first, err := svc.List(ctx, domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 2)
	for _, earlier := range first.AuditLogs {
		for _, later := range second.AuditLogs {
			require.NotEqual(t, earlier.ID, later.ID)
		}
	}
}

func TestListRejectsMangledPageToken(t *testing.T) {
	svc, _, tenantID := setupAudit(t)

	_, err := svc.List(tenantContext(tenantID), domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not-a-cursor"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
