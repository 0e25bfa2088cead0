package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	activetenantdomain "github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"github.com/tribes-rights-management/tribesportal/internal/identity/session"
	"github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	"github.com/tribes-rights-management/tribesportal/internal/sessionwatch"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"go.uber.org/zap"
)

const testToken = "test-session-token"

var (
	testUserID    = snowflake.ID(100)
	testSessionID = snowflake.ID(200)
	testTenantID  = snowflake.ID(300)
)

type fakeIdentityService struct {
	identitydomain.Service

	session    *identitydomain.Session
	authErr    error
	user       *identitydomain.User
	signOuts   []identitydomain.SignOutReason
	signOutErr error
}

func (f *fakeIdentityService) Authenticate(ctx context.Context, rawToken string) (*identitydomain.Session, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	if rawToken != testToken || f.session == nil {
		return nil, identitydomain.ErrInvalidSession
	}
	return f.session, nil
}

func (f *fakeIdentityService) SignOut(ctx context.Context, rawToken string, reason identitydomain.SignOutReason) error {
	f.signOuts = append(f.signOuts, reason)
	return f.signOutErr
}

func (f *fakeIdentityService) GetUser(ctx context.Context, userID snowflake.ID) (*identitydomain.User, error) {
	if f.user == nil {
		return nil, identitydomain.ErrUserNotFound
	}
	return f.user, nil
}

func (f *fakeIdentityService) RevokeSession(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error {
	return nil
}

type fakeActiveTenantService struct {
	activetenantdomain.Service

	state       *activetenantdomain.AccessState
	buildErr    error
	setContexts []string
}

func (f *fakeActiveTenantService) BuildAccessState(ctx context.Context, userID, sessionID snowflake.ID) (*activetenantdomain.AccessState, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.state, nil
}

func (f *fakeActiveTenantService) SetActiveContext(ctx context.Context, userID, tenantID snowflake.ID, portalContext string) error {
	f.setContexts = append(f.setContexts, portalContext)
	return nil
}

type auditCall struct {
	action   string
	metadata map[string]any
}

type fakeAuditService struct {
	calls []auditCall
}

func (f *fakeAuditService) Emit(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	f.calls = append(f.calls, auditCall{action: action, metadata: metadata})
	return nil
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fakeSessionRepo struct {
	identitydomain.SessionRepository

	sessions map[snowflake.ID]*identitydomain.Session
}

func (f *fakeSessionRepo) GetSessionByID(ctx context.Context, sessionID snowflake.ID) (*identitydomain.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, identitydomain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionRepo) UpdateLastActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error {
	if s, ok := f.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

type fixture struct {
	server   *Server
	identity *fakeIdentityService
	active   *fakeActiveTenantService
	audit    *fakeAuditService
	clock    *clock.FakeClock
}

func memberState(role string, contexts ...string) *activetenantdomain.AccessState {
	if len(contexts) == 0 {
		contexts = []string{"licensing", "publishing"}
	}
	return &activetenantdomain.AccessState{
		UserID: testUserID,
		Profile: &identitydomain.Profile{
			UserID:       testUserID,
			PlatformRole: "platform_user",
			Status:       "active",
		},
		ActiveTenant: &tenantdomain.Membership{
			ID:       snowflake.ID(301),
			TenantID: testTenantID,
			UserID:   testUserID,
			Role:     role,
			Status:   tenantdomain.MembershipActive,
			Contexts: contexts,
		},
		ActiveContext: contexts[0],
	}
}

func newFixture(t *testing.T, state *activetenantdomain.AccessState) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.ResetForTest()

	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	now := fc.Now()

	identitySvc := &fakeIdentityService{
		session: &identitydomain.Session{
			ID:             testSessionID,
			UserID:         testUserID,
			StartedAt:      now.Add(-5 * time.Minute),
			LastActivityAt: now.Add(-1 * time.Minute),
		},
		user: &identitydomain.User{ID: testUserID, Email: "user@example.com"},
	}
	sessionRepo := &fakeSessionRepo{sessions: map[snowflake.ID]*identitydomain.Session{
		testSessionID: identitySvc.session,
	}}

	log := zap.NewNop()
	watch := sessionwatch.New(sessionwatch.Params{
		Log:         log,
		Policy:      config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Clock:       fc,
		Identity:    identitySvc,
		SessionRepo: sessionRepo,
		Broadcast:   sessionwatch.NoopBroadcaster{},
	})

	cfg := config.Config{HTTPAddr: ":0"}
	active := &fakeActiveTenantService{state: state}
	audit := &fakeAuditService{}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	srv := &Server{
		engine:          engine,
		cfg:             cfg,
		log:             log,
		sessions:        session.NewManager(cfg),
		genID:           node,
		watch:           watch,
		identitySvc:     identitySvc,
		activeTenantSvc: active,
		auditSvc:        audit,
	}
	srv.registerAuthRoutes()
	srv.registerPortalRoutes()

	return &fixture{server: srv, identity: identitySvc, active: active, audit: audit, clock: fc}
}

func (f *fixture) do(method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: testToken})
	}
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestAuthRequiredRejectsMissingCookie(t *testing.T) {
	f := newFixture(t, memberState("tenant_admin"))

	w := f.do(http.MethodGet, "/v1/me", "", false)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decodeError(t, w).Type)
}

func TestAuthRequiredRejectsBadToken(t *testing.T) {
	f := newFixture(t, memberState("tenant_admin"))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "wrong"})
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeReturnsAccessState(t *testing.T) {
	f := newFixture(t, memberState("tenant_admin"))

	w := f.do(http.MethodGet, "/v1/me", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	var state activetenantdomain.AccessState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	require.Equal(t, testUserID, state.UserID)
	require.NotNil(t, state.ActiveTenant)
	require.Equal(t, testTenantID, state.ActiveTenant.TenantID)
	require.Equal(t, "licensing", state.ActiveContext)
}

func TestPermissionDenialIsNotFoundShaped(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	w := f.do(http.MethodPost, "/v1/tenant/invites", `{"invites":[{"email":"a@b.c","role":"viewer"}]}`, true)

	require.Equal(t, http.StatusNotFound, w.Code)
	payload := decodeError(t, w)
	require.Equal(t, "not_found", payload.Type)
	require.Equal(t, "not found", payload.Message)
	require.Empty(t, payload.Errors)
}

func TestPermissionDenialEmitsAudit(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	f.do(http.MethodPost, "/v1/escalations/1/resolve", "", true)

	require.Len(t, f.audit.calls, 1)
	call := f.audit.calls[0]
	require.Equal(t, "access.permission_denied", call.action)
	require.Equal(t, "escalations.resolve", call.metadata["permission"])
}

func TestViewerPassesReadOnlyGate(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	// A nil notification service would panic past the gate; wiring a stub
	// keeps the assertion on the middleware decision alone.
	passed := false
	f.server.engine.GET("/probe", f.server.AuthRequired(), f.server.TenantContext(),
		f.server.RequirePermission("notifications.view"), func(c *gin.Context) {
			passed = true
			c.Status(http.StatusNoContent)
		})

	w := f.do(http.MethodGet, "/probe", "", true)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, passed)
}

func TestSetContextRejectsDisallowed(t *testing.T) {
	f := newFixture(t, memberState("tenant_user", "licensing"))

	w := f.do(http.MethodPut, "/v1/me/context/publishing", "", true)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, f.active.setContexts)
}

func TestSetContextPersistsAllowed(t *testing.T) {
	f := newFixture(t, memberState("tenant_user", "licensing", "publishing"))

	w := f.do(http.MethodPut, "/v1/me/context/publishing", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"publishing"}, f.active.setContexts)
	var state activetenantdomain.AccessState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	require.Equal(t, "publishing", state.ActiveContext)
}

func TestSessionActivityReportsStateAndDeadline(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	w := f.do(http.MethodPost, "/v1/session/activity", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "active", resp["state"])
	require.Contains(t, resp, "deadline")
}

func TestSessionStateDoesNotCountAsActivity(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	// Prime the watcher, then idle past the warning threshold.
	f.do(http.MethodPost, "/v1/session/activity", "", true)
	f.clock.Advance(config.DefaultPolicy().Session.IdleTimeout + time.Minute)

	w := f.do(http.MethodGet, "/v1/session/state", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "idle-warning", resp["state"])
}

func TestLogoutClearsCookieAndRecordsReason(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	w := f.do(http.MethodPost, "/auth/logout", `{"reason":"idle"}`, true)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []identitydomain.SignOutReason{identitydomain.ReasonIdle}, f.identity.signOuts)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestLogoutSucceedsWhenRevokeFails(t *testing.T) {
	f := newFixture(t, memberState("viewer"))
	f.identity.signOutErr = identitydomain.ErrSessionNotFound

	w := f.do(http.MethodPost, "/auth/logout", `{"reason":"manual"}`, true)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownSignOutReasonDefaultsToManual(t *testing.T) {
	f := newFixture(t, memberState("viewer"))

	w := f.do(http.MethodPost, "/auth/logout", `{"reason":"whatever"}`, true)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []identitydomain.SignOutReason{identitydomain.ReasonManual}, f.identity.signOuts)
}
