package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	escalationdomain "github.com/tribes-rights-management/tribesportal/internal/escalation/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
)

type listEscalationsQuery struct {
	pagination.Pagination
	UnresolvedOnly bool `form:"unresolved_only"`
}

func (s *Server) ListEscalations(c *gin.Context) {
	var q listEscalationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	resp, err := s.escalationSvc.List(c.Request.Context(), escalationdomain.ListRequest{
		Pagination:     q.Pagination,
		TenantID:       tenantID,
		UnresolvedOnly: q.UnresolvedOnly,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResolveEscalation(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_escalation", "invalid escalation id"))
		return
	}

	tenantID, _ := tenantctx.TenantIDFromContext(c.Request.Context())
	ev, err := s.escalationSvc.Resolve(c.Request.Context(), tenantID, id, s.currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ev)
}
