package handler

import (
	"crypto/subtle"
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

// SettlementSecretHeader carries the shared secret of the settlement notifier.
const SettlementSecretHeader = "X-Settlement-Secret"

type PaymentHandler struct {
	escrowService   service.EscrowService
	transferService service.TransferService
	auth            *middleware.Auth
	webhookSecret   string
}

func NewPaymentHandler(escrowService service.EscrowService, transferService service.TransferService, auth *middleware.Auth, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{
		escrowService:   escrowService,
		transferService: transferService,
		auth:            auth,
		webhookSecret:   webhookSecret,
	}
}

func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup) {
	// :id is the milestone id on fund and release, the payment id everywhere else.
	payments := router.Group("/api/payments")
	{
		payments.POST("/:id/fund", h.auth.RequireRole(middleware.RoleCompany), h.FundMilestone)
		payments.POST("/:id/release", h.auth.RequireRole(middleware.RoleCompany, middleware.RoleAdmin), h.ReleaseMilestone)
		payments.GET("/:id", h.auth.RequireRole(), h.GetPayment)
		payments.POST("/:id/proof", h.auth.RequireRole(middleware.RoleAdmin), h.UploadProof)
		payments.GET("/:id/proofs", h.auth.RequireRole(middleware.RoleAdmin), h.ListProofs)
		payments.POST("/:id/confirm-transfer", h.auth.RequireRole(middleware.RoleAdmin), h.ConfirmTransfer)
	}

	router.GET("/api/projects/:id/payments", h.auth.RequireRole(), h.ListProjectPayments)
	router.POST("/api/webhooks/settlement", h.SettlementWebhook)
}

// FundMilestone pays a milestone's amount into escrow
// @Summary      Fund milestone
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Milestone ID"
// @Param        payload  body      service.FundMilestoneRequest  true  "Amount"
// @Success      200      {object}  response.Response{data=service.PaymentResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/payments/{id}/fund [post]
func (h *PaymentHandler) FundMilestone(c *gin.Context) {
	var req service.FundMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := h.escrowService.FundMilestone(c.Request.Context(), c.Param("id"), currentActor(c), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}

// ReleaseMilestone frees escrowed funds after the deliverable was approved
// @Summary      Release milestone
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Milestone ID"
// @Success      200  {object}  response.Response{data=service.PaymentResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/payments/{id}/release [post]
func (h *PaymentHandler) ReleaseMilestone(c *gin.Context) {
	payment, err := h.escrowService.ReleaseMilestone(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}

// GetPayment
// @Summary      Get payment
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Payment ID"
// @Success      200  {object}  response.Response{data=service.PaymentResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.escrowService.GetPayment(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}

// ListProjectPayments
// @Summary      List project payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=[]service.PaymentResponse}
// @Failure      403  {object}  response.Response
// @Router       /api/projects/{id}/payments [get]
func (h *PaymentHandler) ListProjectPayments(c *gin.Context) {
	payments, err := h.escrowService.ListProjectPayments(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payments))
}

// UploadProof stores a bank-transfer receipt for later confirmation
// @Summary      Upload transfer proof
// @Tags         payments
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id    path      string  true  "Payment ID"
// @Param        file  formData  file    true  "Receipt (PDF or image)"
// @Success      201   {object}  response.Response{data=service.TransferProofResponse}
// @Failure      412   {object}  response.Response
// @Router       /api/payments/{id}/proof [post]
func (h *PaymentHandler) UploadProof(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer file.Close()

	proof, err := h.transferService.UploadProof(c.Request.Context(), c.Param("id"), currentActor(c), file, header.Filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, proof))
}

// ListProofs
// @Summary      List transfer proofs
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Payment ID"
// @Success      200  {object}  response.Response{data=[]service.TransferProofResponse}
// @Router       /api/payments/{id}/proofs [get]
func (h *PaymentHandler) ListProofs(c *gin.Context) {
	proofs, err := h.transferService.ListProofs(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, proofs))
}

// ConfirmTransfer records the outbound bank transfer of a released payment
// @Summary      Confirm transfer
// @Description  Exactly one of transfer_ref and proof_document_ref must be given
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true  "Payment ID"
// @Param        payload  body      service.ConfirmTransferRequest  true  "Transfer reference"
// @Success      200      {object}  response.Response{data=service.PaymentResponse}
// @Failure      409      {object}  response.Response
// @Failure      412      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/payments/{id}/confirm-transfer [post]
func (h *PaymentHandler) ConfirmTransfer(c *gin.Context) {
	var req service.ConfirmTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := h.transferService.ConfirmTransfer(c.Request.Context(), c.Param("id"), currentActor(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}

// SettlementWebhook is called by the payment processor once funds are held
// @Summary      Settlement notification
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        X-Settlement-Secret  header    string                          true  "Shared secret"
// @Param        payload              body      service.SettlementNotification  true  "Settled payment"
// @Success      200                  {object}  response.Response{data=service.PaymentResponse}
// @Failure      401                  {object}  response.Response
// @Router       /api/webhooks/settlement [post]
func (h *PaymentHandler) SettlementWebhook(c *gin.Context) {
	if h.webhookSecret == "" {
		c.JSON(http.StatusServiceUnavailable, response.Error(http.StatusServiceUnavailable, "Settlement webhook is not configured"))
		return
	}
	given := c.GetHeader(SettlementSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.webhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid settlement secret"))
		return
	}

	var req service.SettlementNotification
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := h.escrowService.ConfirmEscrow(c.Request.Context(), req.PaymentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}
