package handler

import (
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/pkg/pagination"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Auth
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Auth) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequireRole(middleware.RoleAdmin))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves paginated state transitions, newest first
// @Summary      Get audit logs
// @Description  Every proposal, negotiation and ledger transition with its actor
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action     query     string  false  "Filter by action (e.g. LOCK_MILESTONES)"
// @Param        entity_id  query     string  false  "Filter by entity id"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Success      200        {object}  response.Response{data=object}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)
	filter := repository.AuditFilter{
		Action:   c.Query("action"),
		EntityID: c.Query("entity_id"),
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), filter, p.Page, p.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to retrieve audit logs: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
		"page":  p.Page,
		"limit": p.Limit,
	}))
}
