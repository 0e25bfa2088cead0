package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var q listAuditLogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: q.Pagination,
		Action:     q.Action,
		TargetType: q.TargetType,
		TargetID:   q.TargetID,
		ActorType:  q.ActorType,
	}

	var err error
	if req.StartAt, err = parseTimeParam(q.StartAt); err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_time", "invalid RFC3339 timestamp"))
		return
	}
	if req.EndAt, err = parseTimeParam(q.EndAt); err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_time", "invalid RFC3339 timestamp"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
