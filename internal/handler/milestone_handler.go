package handler

import (
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type MilestoneHandler struct {
	milestoneService service.MilestoneService
	auth             *middleware.Auth
}

func NewMilestoneHandler(milestoneService service.MilestoneService, auth *middleware.Auth) *MilestoneHandler {
	return &MilestoneHandler{milestoneService: milestoneService, auth: auth}
}

func (h *MilestoneHandler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/api/projects/:id/milestones")
	projects.Use(h.auth.RequireRole())
	{
		projects.GET("", h.GetMilestones)
		projects.PUT("", h.EditMilestones)
		projects.POST("/approve", h.Approve)
		projects.POST("/:milestoneId/deliverable/approve", h.auth.RequireRole(middleware.RoleCompany), h.ApproveDeliverable)
	}
}

// GetMilestones returns the ordered milestone set and its approval state
// @Summary      Get milestones
// @Tags         milestones
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=service.MilestoneSetResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/projects/{id}/milestones [get]
func (h *MilestoneHandler) GetMilestones(c *gin.Context) {
	set, err := h.milestoneService.GetMilestones(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, set))
}

// EditMilestones replaces the milestone set while it is unlocked
// @Summary      Edit milestones
// @Description  Full-set replace: entries with a known id are updated, entries without one are created, missing ones are deleted
// @Tags         milestones
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true  "Project ID"
// @Param        payload  body      service.EditMilestonesRequest   true  "Milestone set"
// @Success      200      {object}  response.Response{data=service.MilestoneSetResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/projects/{id}/milestones [put]
func (h *MilestoneHandler) EditMilestones(c *gin.Context) {
	var req service.EditMilestonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := currentActor(c)
	set, err := h.milestoneService.EditMilestones(c.Request.Context(), c.Param("id"), actor.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, set))
}

// Approve records the caller's side of the dual approval
// @Summary      Approve milestones
// @Tags         milestones
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                             true  "Project ID"
// @Param        payload  body      service.ApproveMilestonesRequest   true  "COMPANY or PROVIDER"
// @Success      200      {object}  response.Response{data=service.MilestoneSetResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/projects/{id}/milestones/approve [post]
func (h *MilestoneHandler) Approve(c *gin.Context) {
	var req service.ApproveMilestonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := currentActor(c)
	set, err := h.milestoneService.Approve(c.Request.Context(), c.Param("id"), req.Actor, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, set))
}

// ApproveDeliverable
// @Summary      Approve milestone deliverable
// @Tags         milestones
// @Security     BearerAuth
// @Produce      json
// @Param        id           path      string  true  "Project ID"
// @Param        milestoneId  path      string  true  "Milestone ID"
// @Success      200          {object}  response.Response{data=service.MilestoneResponse}
// @Failure      409          {object}  response.Response
// @Router       /api/projects/{id}/milestones/{milestoneId}/deliverable/approve [post]
func (h *MilestoneHandler) ApproveDeliverable(c *gin.Context) {
	actor := currentActor(c)
	m, err := h.milestoneService.ApproveDeliverable(c.Request.Context(), c.Param("id"), c.Param("milestoneId"), actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, m))
}
