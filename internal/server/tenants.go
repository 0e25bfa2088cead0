package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
)

// CreateTenant creates a tenant with the caller as its first admin. Any
// signed-in user may create one; no tenant context is required.
func (s *Server) CreateTenant(c *gin.Context) {
	var req tenantdomain.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	t, err := s.tenantSvc.CreateTenant(c.Request.Context(), s.currentUserID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

func (s *Server) GetActiveTenant(c *gin.Context) {
	tenantID, ok := tenantctx.TenantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	t, err := s.tenantSvc.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

func (s *Server) ListMembers(c *gin.Context) {
	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())

	members, err := s.tenantSvc.ListMembers(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

type inviteMembersRequest struct {
	Invites []tenantdomain.InviteMemberRequest `json:"invites" binding:"required,min=1,dive"`
}

func (s *Server) InviteMembers(c *gin.Context) {
	var req inviteMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	invites, err := s.tenantSvc.InviteMembers(c.Request.Context(), tenantID, s.currentUserID(c), req.Invites)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"invites": invites})
}

// AcceptInvite joins the caller to the inviting tenant. The invite's email
// must match the caller's account email; the comparison uses the stored
// account email, never a client-supplied one.
func (s *Server) AcceptInvite(c *gin.Context) {
	inviteID, err := snowflake.ParseString(c.Param("inviteId"))
	if err != nil {
		AbortWithError(c, newValidationError("inviteId", "invalid_invite", "invalid invite id"))
		return
	}

	userID := s.currentUserID(c)
	user, err := s.identitySvc.GetUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	m, err := s.tenantSvc.AcceptInvite(c.Request.Context(), inviteID, userID, user.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (s *Server) RevokeInvite(c *gin.Context) {
	inviteID, err := snowflake.ParseString(c.Param("inviteId"))
	if err != nil {
		AbortWithError(c, newValidationError("inviteId", "invalid_invite", "invalid invite id"))
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	if err := s.tenantSvc.RevokeInvite(c.Request.Context(), tenantID, inviteID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (s *Server) ChangeMemberRole(c *gin.Context) {
	memberID, err := snowflake.ParseString(c.Param("userId"))
	if err != nil {
		AbortWithError(c, newValidationError("userId", "invalid_user", "invalid user id"))
		return
	}

	var req tenantdomain.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	m, err := s.tenantSvc.ChangeMemberRole(c.Request.Context(), tenantID, memberID, req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

type setMemberStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) SetMemberStatus(c *gin.Context) {
	memberID, err := snowflake.ParseString(c.Param("userId"))
	if err != nil {
		AbortWithError(c, newValidationError("userId", "invalid_user", "invalid user id"))
		return
	}

	var req setMemberStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	m, err := s.tenantSvc.SetMembershipStatus(
		c.Request.Context(), tenantID, memberID, tenantdomain.MembershipStatus(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

type setMemberContextsRequest struct {
	Contexts       []string `json:"contexts" binding:"required,min=1"`
	DefaultContext *string  `json:"default_context,omitempty"`
}

func (s *Server) SetMemberContexts(c *gin.Context) {
	memberID, err := snowflake.ParseString(c.Param("userId"))
	if err != nil {
		AbortWithError(c, newValidationError("userId", "invalid_user", "invalid user id"))
		return
	}

	var req setMemberContextsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	m, err := s.tenantSvc.SetMembershipContexts(
		c.Request.Context(), tenantID, memberID, req.Contexts, req.DefaultContext)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}
