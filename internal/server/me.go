package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	activetenantdomain "github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	"github.com/tribes-rights-management/tribesportal/internal/sessionwatch"
)

// Me returns the caller's access state: profile, memberships and the
// resolved active tenant/context pair.
func (s *Server) Me(c *gin.Context) {
	c.JSON(http.StatusOK, s.accessState(c))
}

func (s *Server) SwitchTenant(c *gin.Context) {
	tenantID, err := snowflake.ParseString(c.Param("tenantId"))
	if err != nil {
		AbortWithError(c, newValidationError("tenantId", "invalid_tenant", "invalid tenant id"))
		return
	}

	state, err := s.activeTenantSvc.SwitchTenant(
		c.Request.Context(), s.currentUserID(c), s.currentSessionID(c), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// SetContext switches the active portal context within the active tenant.
// Contexts outside the membership's allowed set are denied.
func (s *Server) SetContext(c *gin.Context) {
	state := s.accessState(c)
	portalContext, ok := access.ParsePortalContext(c.Param("context"))
	if !ok {
		AbortWithError(c, newValidationError("context", "invalid_context", "unknown portal context"))
		return
	}
	if !membershipAllows(state.ActiveTenant.Contexts, portalContext) {
		AbortWithError(c, activetenantdomain.ErrContextDenied)
		return
	}

	if err := s.activeTenantSvc.SetActiveContext(
		c.Request.Context(), state.UserID, state.ActiveTenant.TenantID, string(portalContext)); err != nil {
		AbortWithError(c, err)
		return
	}

	state.ActiveContext = string(portalContext)
	c.JSON(http.StatusOK, state)
}

func membershipAllows(contexts []string, pc access.PortalContext) bool {
	for _, raw := range contexts {
		if strings.EqualFold(raw, string(pc)) {
			return true
		}
	}
	return false
}

type setDensityRequest struct {
	Density string `json:"density"`
}

func (s *Server) SetDensity(c *gin.Context) {
	var req setDensityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.identitySvc.SetDensityPreference(c.Request.Context(), s.currentUserID(c), req.Density); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"density": req.Density})
}

// SessionActivity is the heartbeat: it records qualifying activity against
// the timeout state machine and reports the resulting state and the next
// transition deadline.
func (s *Server) SessionActivity(c *gin.Context) {
	sessionID := s.currentSessionID(c)
	state := s.watch.Activity(c.Request.Context(), sessionID)
	s.sessionStateResponse(c, sessionID, state)
}

// SessionState reports the timeout state without counting as activity, so
// background polls never keep a session alive.
func (s *Server) SessionState(c *gin.Context) {
	sessionID := s.currentSessionID(c)
	state, reason := s.watch.Evaluate(c.Request.Context(), sessionID)
	if state == sessionwatch.StateExpired {
		c.JSON(http.StatusOK, gin.H{
			"state":  string(state),
			"reason": string(reason),
		})
		return
	}
	s.sessionStateResponse(c, sessionID, state)
}

func (s *Server) sessionStateResponse(c *gin.Context, sessionID snowflake.ID, state sessionwatch.State) {
	resp := gin.H{"state": string(state)}
	if deadline, ok := s.watch.Deadline(sessionID); ok {
		resp["deadline"] = deadline
	}
	c.JSON(http.StatusOK, resp)
}
