package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	notificationdomain "github.com/tribes-rights-management/tribesportal/internal/notification/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
)

type listNotificationsQuery struct {
	pagination.Pagination
	IncludeArchived bool `form:"include_archived"`
	UnresolvedOnly  bool `form:"unresolved_only"`
	// Mine narrows the list to notifications addressed to the caller
	// (broadcast rows are always included).
	Mine bool `form:"mine"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	var q listNotificationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	req := notificationdomain.ListRequest{
		Pagination:      q.Pagination,
		TenantID:        tenantID,
		IncludeArchived: q.IncludeArchived,
		UnresolvedOnly:  q.UnresolvedOnly,
	}
	if q.Mine {
		userID := s.currentUserID(c)
		req.RecipientID = &userID
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type createNotificationRequest struct {
	RecipientID        *string        `json:"recipient_id,omitempty"`
	Type               string         `json:"type" binding:"required"`
	Priority           string         `json:"priority" binding:"required"`
	Title              string         `json:"title" binding:"required"`
	Body               string         `json:"body"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	RequiresResolution bool           `json:"requires_resolution"`
	Retention          string         `json:"retention"`
}

func (s *Server) CreateNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	create := notificationdomain.CreateRequest{
		TenantID:           tenantID,
		Type:               req.Type,
		Priority:           req.Priority,
		Title:              req.Title,
		Body:               req.Body,
		Metadata:           req.Metadata,
		RequiresResolution: req.RequiresResolution,
		Retention:          req.Retention,
	}
	if req.RecipientID != nil {
		recipient, err := snowflake.ParseString(*req.RecipientID)
		if err != nil {
			AbortWithError(c, newValidationError("recipient_id", "invalid_recipient", "invalid recipient id"))
			return
		}
		create.RecipientID = &recipient
	}

	n, err := s.notificationSvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, n)
}

func (s *Server) AcknowledgeNotification(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_notification", "invalid notification id"))
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	n, err := s.notificationSvc.Acknowledge(c.Request.Context(), tenantID, id, s.currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (s *Server) ResolveNotification(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_notification", "invalid notification id"))
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	n, err := s.notificationSvc.Resolve(c.Request.Context(), tenantID, id, s.currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (s *Server) ArchiveNotification(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_notification", "invalid notification id"))
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	n, err := s.notificationSvc.Archive(c.Request.Context(), tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}
