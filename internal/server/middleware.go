package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	activetenantdomain "github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	"github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
)

const (
	contextUserIDKey      = "user_id"
	contextSessionIDKey   = "session_id"
	contextAccessStateKey = "access_state"
)

// AuthRequired resolves the session cookie into an authenticated user.
// Authentication enforces revocation, idle timeout and the absolute session
// lifetime. It does not feed the timeout state machine: only the explicit
// activity endpoint counts as qualifying activity, so passive polls never
// keep a session alive.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.identitySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.sessions.Clear(c)
			AbortWithError(c, err)
			return
		}

		ctx := tenantctx.WithUserID(c.Request.Context(), session.UserID)
		ctx = tenantctx.WithRequestMeta(ctx, tenantctx.RequestMeta{
			UserAgent: c.Request.UserAgent(),
			IPAddress: c.ClientIP(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextUserIDKey, session.UserID)
		c.Set(contextSessionIDKey, session.ID)
		c.Next()
	}
}

// TenantContext builds the access state for the authenticated user and
// injects the resolved tenant and portal context into the request context.
// Routes behind it can assume an active tenant exists.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := s.currentUserID(c)
		sessionID := s.currentSessionID(c)

		state, err := s.activeTenantSvc.BuildAccessState(c.Request.Context(), userID, sessionID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if state.ActiveTenant == nil {
			AbortWithError(c, activetenantdomain.ErrNoActiveTenant)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), state.ActiveTenant.TenantID)
		if state.ActiveContext != "" {
			ctx = tenantctx.WithPortalContext(ctx, state.ActiveContext)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextAccessStateKey, state)
		c.Next()
	}
}

// RequirePermission gates a route on one permission. A denial is shaped
// exactly like a missing route: 404 with the generic not-found payload and
// no reason, so callers cannot probe which capabilities exist.
func (s *Server) RequirePermission(permission access.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := s.accessState(c)
		if state == nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		principal := principalFromState(state)
		if !access.HasPermission(principal, permission) {
			metrics.Default().IncPermissionDenied(string(permission))
			s.auditPermissionDenied(c, state, permission)
			AbortWithError(c, ErrNotFound)
			return
		}
		c.Next()
	}
}

func (s *Server) currentUserID(c *gin.Context) snowflake.ID {
	v, _ := c.Get(contextUserIDKey)
	id, _ := v.(snowflake.ID)
	return id
}

func (s *Server) currentSessionID(c *gin.Context) snowflake.ID {
	v, _ := c.Get(contextSessionIDKey)
	id, _ := v.(snowflake.ID)
	return id
}

func (s *Server) accessState(c *gin.Context) *activetenantdomain.AccessState {
	v, ok := c.Get(contextAccessStateKey)
	if !ok {
		return nil
	}
	state, _ := v.(*activetenantdomain.AccessState)
	return state
}

// principalFromState flattens the access state into the pure evaluator
// input. Unknown stored roles parse to zero values and grant nothing.
func principalFromState(state *activetenantdomain.AccessState) access.Principal {
	p := access.Principal{}
	if state.Profile != nil {
		p.PlatformRole, _ = access.ParsePlatformRole(state.Profile.PlatformRole)
		p.ProfileStatus = access.ProfileStatus(state.Profile.Status)
	}
	if m := state.ActiveTenant; m != nil {
		p.TenantRole, _ = access.ParseTenantRole(m.Role)
		p.AllowedContexts = allowedContexts(m)
	}
	return p
}

func allowedContexts(m *tenantdomain.Membership) []access.PortalContext {
	out := make([]access.PortalContext, 0, len(m.Contexts))
	for _, raw := range m.Contexts {
		if pc, ok := access.ParsePortalContext(raw); ok {
			out = append(out, pc)
		}
	}
	return out
}

func (s *Server) auditPermissionDenied(c *gin.Context, state *activetenantdomain.AccessState, permission access.Permission) {
	actorID := state.UserID.String()
	var tenantID *snowflake.ID
	if state.ActiveTenant != nil {
		id := state.ActiveTenant.TenantID
		tenantID = &id
	}
	_ = s.auditSvc.Emit(c.Request.Context(), tenantID, "user", &actorID,
		"access.permission_denied", "permission", nil, map[string]any{
			"permission": string(permission),
			"path":       c.FullPath(),
		})
}
