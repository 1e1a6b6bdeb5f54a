package handler

import (
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	payoutService service.PayoutService
	auth          *middleware.Auth
}

func NewPayoutHandler(payoutService service.PayoutService, auth *middleware.Auth) *PayoutHandler {
	return &PayoutHandler{payoutService: payoutService, auth: auth}
}

func (h *PayoutHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/providers/:id/payout-methods")
	group.Use(h.auth.RequireRole(middleware.RoleProvider, middleware.RoleAdmin))
	{
		group.POST("", h.RegisterPayoutMethod)
		group.GET("", h.ListPayoutMethods)
	}
}

// RegisterPayoutMethod
// @Summary      Register payout method
// @Tags         payouts
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                               true  "Provider ID"
// @Param        payload  body      service.RegisterPayoutMethodRequest  true  "Payout method"
// @Success      201      {object}  response.Response{data=service.PayoutMethodResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/providers/{id}/payout-methods [post]
func (h *PayoutHandler) RegisterPayoutMethod(c *gin.Context) {
	var req service.RegisterPayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	method, err := h.payoutService.RegisterPayoutMethod(c.Request.Context(), c.Param("id"), currentActor(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, method))
}

// ListPayoutMethods
// @Summary      List payout methods
// @Tags         payouts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Provider ID"
// @Success      200  {object}  response.Response{data=[]service.PayoutMethodResponse}
// @Router       /api/providers/{id}/payout-methods [get]
func (h *PayoutHandler) ListPayoutMethods(c *gin.Context) {
	methods, err := h.payoutService.ListPayoutMethods(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, methods))
}
