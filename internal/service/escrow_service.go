package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/events"
	"marketplace/internal/lock"
	"marketplace/internal/metrics"
	"marketplace/internal/model"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

type FundMilestoneRequest struct {
	Amount string `json:"amount"`
}

type SettlementNotification struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

type PaymentResponse struct {
	ID                 string  `json:"id"`
	MilestoneID        string  `json:"milestone_id"`
	ProjectID          string  `json:"project_id"`
	ProviderID         string  `json:"provider_id"`
	Amount             string  `json:"amount"`
	PlatformFeeRate    string  `json:"platform_fee_rate"`
	PlatformFeeAmount  string  `json:"platform_fee_amount"`
	ProviderAmount     string  `json:"provider_amount"`
	Method             string  `json:"method"`
	Status             string  `json:"status"`
	BankTransferRef    string  `json:"bank_transfer_ref,omitempty"`
	BankTransferStatus string  `json:"bank_transfer_status"`
	EscrowedAt         *string `json:"escrowed_at"`
	ReleasedAt         *string `json:"released_at"`
	TransferredAt      *string `json:"transferred_at"`
	TransferredBy      string  `json:"transferred_by,omitempty"`
	MilestoneTitle     string  `json:"milestone_title,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

// EscrowService moves milestone money from the customer into escrow and out to release.
type EscrowService interface {
	FundMilestone(ctx context.Context, milestoneID string, actor Actor, amount string) (PaymentResponse, error)
	ConfirmEscrow(ctx context.Context, paymentID string) (PaymentResponse, error)
	ReleaseMilestone(ctx context.Context, milestoneID string, actor Actor) (PaymentResponse, error)
	GetPayment(ctx context.Context, id string, actor Actor) (PaymentResponse, error)
	ListProjectPayments(ctx context.Context, projectID string, actor Actor) ([]PaymentResponse, error)
}

// EscrowOptions are the deployment's ledger settings.
type EscrowOptions struct {
	FeeRate decimal.Decimal
	// AutoConfirm escrows a payment as soon as it is funded instead of
	// waiting for the settlement webhook.
	AutoConfirm bool
}

type escrowService struct {
	projectRepo   repository.ProjectRepository
	milestoneRepo repository.MilestoneRepository
	approvalRepo  repository.ApprovalRepository
	paymentRepo   repository.PaymentRepository
	auditRepo     repository.AuditRepository
	txManager     repository.TransactionManager
	locker        lock.Locker
	publisher     events.Publisher
	logger        *zap.Logger
	opts          EscrowOptions
}

func NewEscrowService(
	projectRepo repository.ProjectRepository,
	milestoneRepo repository.MilestoneRepository,
	approvalRepo repository.ApprovalRepository,
	paymentRepo repository.PaymentRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	locker lock.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
	opts EscrowOptions,
) EscrowService {
	return &escrowService{
		projectRepo:   projectRepo,
		milestoneRepo: milestoneRepo,
		approvalRepo:  approvalRepo,
		paymentRepo:   paymentRepo,
		auditRepo:     auditRepo,
		txManager:     txManager,
		locker:        locker,
		publisher:     publisher,
		logger:        logger,
		opts:          opts,
	}
}

// --- Implementation ---

// FundMilestone records the customer's payment for one milestone. A retry with
// the same amount returns the payment created by the first call.
func (s *escrowService) FundMilestone(ctx context.Context, milestoneID string, actor Actor, amount string) (PaymentResponse, error) {
	mid, err := parseID(milestoneID, "milestone_id")
	if err != nil {
		return PaymentResponse{}, err
	}
	v := &ValidationError{}
	value, ok := parseAmount(amount, "amount", "amount", v)
	if ok && !value.IsPositive() {
		v.Add("amount", "amount must be greater than 0")
	}
	if err := v.Err(); err != nil {
		return PaymentResponse{}, err
	}

	milestone, err := s.milestoneRepo.FindByID(ctx, mid)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "milestone", milestoneID)
	}
	project, err := s.projectRepo.FindByID(ctx, milestone.ProjectID)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "project", milestone.ProjectID.String())
	}
	if actor.ID != project.CompanyID {
		return PaymentResponse{}, &ForbiddenError{Reason: "only the project's company can fund milestones"}
	}

	unlock, err := s.locker.Lock(ctx, projectLockKey(project.ID))
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var (
		payment *model.Payment
		created bool
	)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		a, findErr := s.approvalRepo.FindByProject(txCtx, project.ID)
		if findErr != nil {
			return notFoundOr(findErr, "milestone approval", project.ID.String())
		}
		if !a.Locked() {
			return &InvalidStateError{Entity: "milestone set", State: a.State, Op: "fund milestone"}
		}

		m, findErr := s.milestoneRepo.FindByIDForUpdate(txCtx, mid)
		if findErr != nil {
			return notFoundOr(findErr, "milestone", milestoneID)
		}

		existing, findErr := s.paymentRepo.FindByMilestoneForUpdate(txCtx, mid)
		switch {
		case findErr == nil:
			if !existing.Amount.Equal(value) {
				return &InvalidStateError{Entity: "milestone", State: "funded with " + existing.Amount.StringFixed(2), Op: "fund milestone with " + value.StringFixed(2)}
			}
			payment = existing
			return nil
		case !errors.Is(findErr, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to load payment: %w", findErr)
		}

		if !value.Equal(m.Amount) {
			v := &ValidationError{}
			v.Add("amount", "amount %s does not match milestone amount %s", value.String(), m.Amount.String())
			return v
		}
		if m.Status != model.MilestonePending {
			return &InvalidStateError{Entity: "milestone", State: m.Status, Op: "fund milestone"}
		}

		fee, providerAmount := model.SplitFee(value, s.opts.FeeRate)
		p := &model.Payment{
			MilestoneID:        m.ID,
			ProjectID:          project.ID,
			ProviderID:         project.ProviderID,
			Amount:             value,
			PlatformFeeRate:    s.opts.FeeRate,
			PlatformFeeAmount:  fee,
			ProviderAmount:     providerAmount,
			Method:             model.PaymentMethodEscrow,
			Status:             model.PaymentPending,
			BankTransferStatus: model.BankTransferNone,
		}
		if createErr := s.paymentRepo.Create(txCtx, p); createErr != nil {
			return fmt.Errorf("failed to create payment: %w", createErr)
		}
		payment = p
		created = true

		if auditErr := audit(txCtx, s.auditRepo, actor.ID, model.ActionFundMilestone, p.ID.String(), m.Title, map[string]interface{}{
			"milestone_id":        m.ID.String(),
			"amount":              value.String(),
			"platform_fee_amount": fee.String(),
			"provider_amount":     providerAmount.String(),
		}); auditErr != nil {
			return auditErr
		}

		if !s.opts.AutoConfirm {
			return nil
		}
		return s.escrow(txCtx, p, m, actor.ID)
	})
	if err != nil {
		recordRejection("fund_milestone", err)
		return PaymentResponse{}, err
	}

	if created {
		metrics.IncPaymentTransition(model.PaymentPending)
		s.logger.Info("milestone funded",
			zap.String("project_id", project.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", payment.Status),
		)
		if payment.Status == model.PaymentEscrowed {
			s.escrowed(ctx, payment)
		}
	}

	return toPaymentResponse(*payment), nil
}

// ConfirmEscrow is driven by the settlement notifier.
func (s *escrowService) ConfirmEscrow(ctx context.Context, paymentID string) (PaymentResponse, error) {
	pid, err := parseID(paymentID, "payment_id")
	if err != nil {
		return PaymentResponse{}, err
	}

	existing, err := s.paymentRepo.FindByID(ctx, pid)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "payment", paymentID)
	}
	unlock, err := s.locker.Lock(ctx, projectLockKey(existing.ProjectID))
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var (
		payment *model.Payment
		changed bool
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, findErr := s.paymentRepo.FindByIDForUpdate(txCtx, pid)
		if findErr != nil {
			return notFoundOr(findErr, "payment", paymentID)
		}
		payment = p

		switch p.Status {
		case model.PaymentEscrowed:
			return nil
		case model.PaymentPending:
		default:
			return &InvalidStateError{Entity: "payment", State: p.Status, Op: "confirm escrow"}
		}

		m, findErr := s.milestoneRepo.FindByIDForUpdate(txCtx, p.MilestoneID)
		if findErr != nil {
			return notFoundOr(findErr, "milestone", p.MilestoneID.String())
		}
		changed = true
		return s.escrow(txCtx, p, m, uuid.Nil)
	})
	if err != nil {
		recordRejection("confirm_escrow", err)
		return PaymentResponse{}, err
	}

	if changed {
		s.escrowed(ctx, payment)
	}
	return toPaymentResponse(*payment), nil
}

// escrow moves a PENDING payment to ESCROWED and its milestone to FUNDED.
func (s *escrowService) escrow(ctx context.Context, p *model.Payment, m *model.Milestone, actorID uuid.UUID) error {
	now := time.Now()
	p.Status = model.PaymentEscrowed
	p.EscrowedAt = &now
	if err := s.paymentRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to escrow payment: %w", err)
	}

	m.Status = model.MilestoneFunded
	if err := s.milestoneRepo.UpdateStatus(ctx, m); err != nil {
		return fmt.Errorf("failed to update milestone: %w", err)
	}

	return audit(ctx, s.auditRepo, actorID, model.ActionEscrowPayment, p.ID.String(), m.Title, map[string]interface{}{
		"milestone_id": m.ID.String(),
		"amount":       p.Amount.String(),
	})
}

func (s *escrowService) escrowed(ctx context.Context, p *model.Payment) {
	metrics.IncPaymentTransition(model.PaymentEscrowed)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.PaymentEscrowed,
		ProjectID: p.ProjectID.String(),
		EntityID:  p.ID.String(),
		Data:      map[string]interface{}{"milestone_id": p.MilestoneID.String(), "amount": p.Amount.String()},
	})
}

func (s *escrowService) ReleaseMilestone(ctx context.Context, milestoneID string, actor Actor) (PaymentResponse, error) {
	mid, err := parseID(milestoneID, "milestone_id")
	if err != nil {
		return PaymentResponse{}, err
	}

	milestone, err := s.milestoneRepo.FindByID(ctx, mid)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "milestone", milestoneID)
	}
	project, err := s.projectRepo.FindByID(ctx, milestone.ProjectID)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "project", milestone.ProjectID.String())
	}
	if actor.ID != project.CompanyID && !actor.IsAdmin() {
		return PaymentResponse{}, &ForbiddenError{Reason: "only the project's company or an admin can release milestones"}
	}

	unlock, err := s.locker.Lock(ctx, projectLockKey(project.ID))
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var payment *model.Payment
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		a, findErr := s.approvalRepo.FindByProject(txCtx, project.ID)
		if findErr != nil {
			return notFoundOr(findErr, "milestone approval", project.ID.String())
		}
		if !a.Locked() {
			return &InvalidStateError{Entity: "milestone set", State: a.State, Op: "release milestone"}
		}

		m, findErr := s.milestoneRepo.FindByIDForUpdate(txCtx, mid)
		if findErr != nil {
			return notFoundOr(findErr, "milestone", milestoneID)
		}
		if m.Status != model.MilestoneApproved {
			return &InvalidStateError{Entity: "milestone", State: m.Status, Op: "release milestone"}
		}

		p, findErr := s.paymentRepo.FindByMilestoneForUpdate(txCtx, mid)
		if findErr != nil {
			return notFoundOr(findErr, "payment for milestone", milestoneID)
		}
		payment = p
		if p.Status != model.PaymentEscrowed {
			return &InvalidStateError{Entity: "payment", State: p.Status, Op: "release milestone"}
		}

		now := time.Now()
		p.Status = model.PaymentReleased
		p.ReleasedAt = &now
		if updErr := s.paymentRepo.Update(txCtx, p); updErr != nil {
			return fmt.Errorf("failed to release payment: %w", updErr)
		}
		m.Status = model.MilestoneReleased
		if updErr := s.milestoneRepo.UpdateStatus(txCtx, m); updErr != nil {
			return fmt.Errorf("failed to update milestone: %w", updErr)
		}

		return audit(txCtx, s.auditRepo, actor.ID, model.ActionReleaseMilestone, p.ID.String(), m.Title, map[string]interface{}{
			"milestone_id":    m.ID.String(),
			"provider_amount": p.ProviderAmount.String(),
		})
	})
	if err != nil {
		recordRejection("release_milestone", err)
		return PaymentResponse{}, err
	}

	metrics.IncPaymentTransition(model.PaymentReleased)
	s.logger.Info("milestone released",
		zap.String("project_id", project.ID.String()),
		zap.String("payment_id", payment.ID.String()),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.PaymentReleased,
		ProjectID: project.ID.String(),
		EntityID:  payment.ID.String(),
		ActorID:   actor.ID.String(),
		Data:      map[string]interface{}{"milestone_id": mid.String(), "provider_amount": payment.ProviderAmount.String()},
	})

	return toPaymentResponse(*payment), nil
}

func (s *escrowService) GetPayment(ctx context.Context, id string, actor Actor) (PaymentResponse, error) {
	pid, err := parseID(id, "payment_id")
	if err != nil {
		return PaymentResponse{}, err
	}
	p, err := s.paymentRepo.FindByID(ctx, pid)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "payment", id)
	}
	project, err := s.projectRepo.FindByID(ctx, p.ProjectID)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "project", p.ProjectID.String())
	}
	if !actor.partyTo(project) {
		return PaymentResponse{}, &ForbiddenError{Reason: "only the project's parties can view its payments"}
	}
	return toPaymentResponse(*p), nil
}

func (s *escrowService) ListProjectPayments(ctx context.Context, projectID string, actor Actor) ([]PaymentResponse, error) {
	pid, err := parseID(projectID, "project_id")
	if err != nil {
		return nil, err
	}
	project, err := s.projectRepo.FindByID(ctx, pid)
	if err != nil {
		return nil, notFoundOr(err, "project", projectID)
	}
	if !actor.partyTo(project) {
		return nil, &ForbiddenError{Reason: "only the project's parties can view its payments"}
	}

	payments, err := s.paymentRepo.ListByProject(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	res := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		res = append(res, toPaymentResponse(p))
	}
	return res, nil
}

// --- Helpers ---

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toPaymentResponse(p model.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:                 p.ID.String(),
		MilestoneID:        p.MilestoneID.String(),
		ProjectID:          p.ProjectID.String(),
		ProviderID:         p.ProviderID.String(),
		Amount:             p.Amount.StringFixed(2),
		PlatformFeeRate:    p.PlatformFeeRate.String(),
		PlatformFeeAmount:  p.PlatformFeeAmount.StringFixed(2),
		ProviderAmount:     p.ProviderAmount.StringFixed(2),
		Method:             p.Method,
		Status:             p.Status,
		BankTransferRef:    p.BankTransferRef,
		BankTransferStatus: p.BankTransferStatus,
		EscrowedAt:         formatTime(p.EscrowedAt),
		ReleasedAt:         formatTime(p.ReleasedAt),
		TransferredAt:      formatTime(p.TransferredAt),
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
	}
	if p.TransferredBy != nil {
		resp.TransferredBy = p.TransferredBy.String()
	}
	if p.Milestone != nil {
		resp.MilestoneTitle = p.Milestone.Title
	}
	return resp
}
