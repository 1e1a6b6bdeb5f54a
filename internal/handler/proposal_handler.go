package handler

import (
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/pkg/pagination"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type ProposalHandler struct {
	proposalService service.ProposalService
	auth            *middleware.Auth
}

func NewProposalHandler(proposalService service.ProposalService, auth *middleware.Auth) *ProposalHandler {
	return &ProposalHandler{proposalService: proposalService, auth: auth}
}

func (h *ProposalHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/service-requests")
	{
		requests.POST("", h.auth.RequireRole(middleware.RoleCompany), h.CreateServiceRequest)
		requests.GET("/:id", h.auth.RequireRole(), h.GetServiceRequest)
		requests.GET("/:id/proposals", h.auth.RequireRole(), h.ListProposals)
	}

	proposals := router.Group("/api/proposals")
	{
		proposals.POST("", h.auth.RequireRole(middleware.RoleProvider), h.SubmitProposal)
		proposals.GET("/:id", h.auth.RequireRole(), h.GetProposal)
		proposals.POST("/:id/accept", h.auth.RequireRole(middleware.RoleCompany), h.AcceptProposal)
		proposals.POST("/:id/reject", h.auth.RequireRole(middleware.RoleCompany), h.RejectProposal)
	}
}

// CreateServiceRequest posts a new job for providers to bid on
// @Summary      Create service request
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateServiceRequestRequest  true  "Service request"
// @Success      201      {object}  response.Response{data=service.ServiceRequestResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/service-requests [post]
func (h *ProposalHandler) CreateServiceRequest(c *gin.Context) {
	var req service.CreateServiceRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := currentActor(c)
	sr, err := h.proposalService.CreateServiceRequest(c.Request.Context(), actor.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, sr))
}

// GetServiceRequest
// @Summary      Get service request
// @Tags         proposals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Service request ID"
// @Success      200  {object}  response.Response{data=service.ServiceRequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/service-requests/{id} [get]
func (h *ProposalHandler) GetServiceRequest(c *gin.Context) {
	sr, err := h.proposalService.GetServiceRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, sr))
}

// SubmitProposal bids on an open service request with a draft milestone plan
// @Summary      Submit proposal
// @Description  Every failing field is reported in one response
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.SubmitProposalRequest  true  "Proposal"
// @Success      201      {object}  response.Response{data=service.ProposalResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/proposals [post]
func (h *ProposalHandler) SubmitProposal(c *gin.Context) {
	var req service.SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := currentActor(c)
	proposal, err := h.proposalService.SubmitProposal(c.Request.Context(), actor.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, proposal))
}

// GetProposal
// @Summary      Get proposal
// @Tags         proposals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Proposal ID"
// @Success      200  {object}  response.Response{data=service.ProposalResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/proposals/{id} [get]
func (h *ProposalHandler) GetProposal(c *gin.Context) {
	proposal, err := h.proposalService.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, proposal))
}

// ListProposals returns the proposals of a service request, optionally filtered by status
// @Summary      List proposals
// @Tags         proposals
// @Security     BearerAuth
// @Produce      json
// @Param        id      path      string  true   "Service request ID"
// @Param        status  query     string  false  "PENDING, ACCEPTED or REJECTED"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/service-requests/{id}/proposals [get]
func (h *ProposalHandler) ListProposals(c *gin.Context) {
	p := pagination.Parse(c)
	filter := service.ProposalFilter{
		Status: c.Query("status"),
		Page:   p.Page,
		Limit:  p.Limit,
	}

	proposals, total, err := h.proposalService.ListProposals(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"proposals": proposals,
		"total":     total,
		"page":      p.Page,
		"limit":     p.Limit,
	}))
}

// AcceptProposal creates the project and its negotiable milestone set
// @Summary      Accept proposal
// @Tags         proposals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Proposal ID"
// @Success      200  {object}  response.Response{data=service.AcceptProposalResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/proposals/{id}/accept [post]
func (h *ProposalHandler) AcceptProposal(c *gin.Context) {
	actor := currentActor(c)
	result, err := h.proposalService.AcceptProposal(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectProposal
// @Summary      Reject proposal
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true  "Proposal ID"
// @Param        payload  body      service.RejectProposalRequest   true  "Reason"
// @Success      200      {object}  response.Response{data=service.ProposalResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/proposals/{id}/reject [post]
func (h *ProposalHandler) RejectProposal(c *gin.Context) {
	var req service.RejectProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := currentActor(c)
	result, err := h.proposalService.RejectProposal(c.Request.Context(), c.Param("id"), actor.ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
