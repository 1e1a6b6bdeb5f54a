package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/events"
	"marketplace/internal/lock"
	"marketplace/internal/metrics"
	"marketplace/internal/model"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const siblingRejectionReason = "another proposal was accepted"

// --- DTOs ---

type CreateServiceRequestRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	BudgetMin    string `json:"budget_min"`
	BudgetMax    string `json:"budget_max"`
	TimelineDays int    `json:"timeline_days"`
}

type ServiceRequestResponse struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	BudgetMin    string `json:"budget_min"`
	BudgetMax    string `json:"budget_max"`
	TimelineDays int    `json:"timeline_days"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

type SubmitProposalRequest struct {
	ServiceRequestID string           `json:"service_request_id" binding:"required"`
	BidAmount        string           `json:"bid_amount"`
	TimelineDays     int              `json:"timeline_days"`
	CoverLetter      string           `json:"cover_letter"`
	Milestones       []MilestoneInput `json:"milestones"`
}

type RejectProposalRequest struct {
	Reason string `json:"reason"`
}

type ProposalFilter struct {
	Status string // PENDING, ACCEPTED, REJECTED or empty for all
	Page   int
	Limit  int
}

type ProposalResponse struct {
	ID               string              `json:"id"`
	ServiceRequestID string              `json:"service_request_id"`
	ProviderID       string              `json:"provider_id"`
	BidAmount        string              `json:"bid_amount"`
	TimelineDays     int                 `json:"timeline_days"`
	CoverLetter      string              `json:"cover_letter"`
	Status           string              `json:"status"`
	RejectionReason  string              `json:"rejection_reason,omitempty"`
	Milestones       []MilestoneResponse `json:"milestones"`
	DecidedAt        *string             `json:"decided_at"`
	CreatedAt        string              `json:"created_at"`
}

type AcceptProposalResponse struct {
	Proposal   ProposalResponse      `json:"proposal"`
	ProjectID  string                `json:"project_id"`
	Milestones []MilestoneResponse   `json:"milestones"`
	Approval   ApprovalStateResponse `json:"approval"`
}

// --- Interface ---

type ProposalService interface {
	CreateServiceRequest(ctx context.Context, customerID uuid.UUID, req CreateServiceRequestRequest) (ServiceRequestResponse, error)
	GetServiceRequest(ctx context.Context, id string) (ServiceRequestResponse, error)
	SubmitProposal(ctx context.Context, providerID uuid.UUID, req SubmitProposalRequest) (ProposalResponse, error)
	GetProposal(ctx context.Context, id string) (ProposalResponse, error)
	ListProposals(ctx context.Context, serviceRequestID string, filter ProposalFilter) ([]ProposalResponse, int64, error)
	AcceptProposal(ctx context.Context, id string, actorID uuid.UUID) (AcceptProposalResponse, error)
	RejectProposal(ctx context.Context, id string, actorID uuid.UUID, reason string) (ProposalResponse, error)
}

type proposalService struct {
	serviceRequestRepo repository.ServiceRequestRepository
	proposalRepo       repository.ProposalRepository
	projectRepo        repository.ProjectRepository
	milestoneRepo      repository.MilestoneRepository
	approvalRepo       repository.ApprovalRepository
	auditRepo          repository.AuditRepository
	txManager          repository.TransactionManager
	locker             lock.Locker
	publisher          events.Publisher
	logger             *zap.Logger
}

func NewProposalService(
	serviceRequestRepo repository.ServiceRequestRepository,
	proposalRepo repository.ProposalRepository,
	projectRepo repository.ProjectRepository,
	milestoneRepo repository.MilestoneRepository,
	approvalRepo repository.ApprovalRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	locker lock.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
) ProposalService {
	return &proposalService{
		serviceRequestRepo: serviceRequestRepo,
		proposalRepo:       proposalRepo,
		projectRepo:        projectRepo,
		milestoneRepo:      milestoneRepo,
		approvalRepo:       approvalRepo,
		auditRepo:          auditRepo,
		txManager:          txManager,
		locker:             locker,
		publisher:          publisher,
		logger:             logger,
	}
}

// --- Implementation ---

func (s *proposalService) CreateServiceRequest(ctx context.Context, customerID uuid.UUID, req CreateServiceRequestRequest) (ServiceRequestResponse, error) {
	v := &ValidationError{}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		v.Add("title", "title is required")
	}
	budgetMin, minOK := parseAmount(req.BudgetMin, "budget_min", "budget_min", v)
	if minOK && !budgetMin.IsPositive() {
		v.Add("budget_min", "budget_min must be greater than 0")
	}
	budgetMax, maxOK := parseAmount(req.BudgetMax, "budget_max", "budget_max", v)
	if maxOK && minOK && budgetMax.LessThan(budgetMin) {
		v.Add("budget_max", "budget_max %s is below budget_min %s", budgetMax.String(), budgetMin.String())
	}
	if req.TimelineDays <= 0 {
		v.Add("timeline_days", "timeline_days must be greater than 0")
	}
	if err := v.Err(); err != nil {
		return ServiceRequestResponse{}, err
	}

	sr := model.ServiceRequest{
		CustomerID:   customerID,
		Title:        title,
		Description:  strings.TrimSpace(req.Description),
		BudgetMin:    budgetMin,
		BudgetMax:    budgetMax,
		TimelineDays: req.TimelineDays,
		Status:       model.ServiceRequestOpen,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.serviceRequestRepo.Create(txCtx, &sr); err != nil {
			return fmt.Errorf("failed to create service request: %w", err)
		}
		return audit(txCtx, s.auditRepo, customerID, model.ActionCreateServiceRequest, sr.ID.String(), sr.Title, map[string]interface{}{
			"budget_min":    budgetMin.String(),
			"budget_max":    budgetMax.String(),
			"timeline_days": req.TimelineDays,
		})
	})
	if err != nil {
		return ServiceRequestResponse{}, err
	}

	return toServiceRequestResponse(sr), nil
}

func (s *proposalService) GetServiceRequest(ctx context.Context, id string) (ServiceRequestResponse, error) {
	srID, err := parseID(id, "service_request_id")
	if err != nil {
		return ServiceRequestResponse{}, err
	}
	sr, err := s.serviceRequestRepo.FindByID(ctx, srID)
	if err != nil {
		return ServiceRequestResponse{}, notFoundOr(err, "service request", id)
	}
	return toServiceRequestResponse(*sr), nil
}

func (s *proposalService) SubmitProposal(ctx context.Context, providerID uuid.UUID, req SubmitProposalRequest) (ProposalResponse, error) {
	srID, err := parseID(req.ServiceRequestID, "service_request_id")
	if err != nil {
		return ProposalResponse{}, err
	}

	sr, err := s.serviceRequestRepo.FindByID(ctx, srID)
	if err != nil {
		return ProposalResponse{}, notFoundOr(err, "service request", req.ServiceRequestID)
	}
	if sr.Status != model.ServiceRequestOpen {
		return ProposalResponse{}, &InvalidStateError{Entity: "service request", State: sr.Status, Op: "submit proposal"}
	}

	v := &ValidationError{}
	bid, bidOK := parseAmount(req.BidAmount, "bid_amount", "bid_amount", v)
	if bidOK && (bid.LessThan(sr.BudgetMin) || bid.GreaterThan(sr.BudgetMax)) {
		v.Add("bid_amount", "bid amount %s is outside the budget range %s-%s", bid.String(), sr.BudgetMin.String(), sr.BudgetMax.String())
	}
	if req.TimelineDays <= 0 {
		v.Add("timeline_days", "timeline_days must be greater than 0")
	} else if req.TimelineDays > sr.TimelineDays {
		v.Add("timeline_days", "timeline of %d days exceeds the requested %d days", req.TimelineDays, sr.TimelineDays)
	}

	milestones := parseMilestones(req.Milestones, startOfDay(time.Now()), v)
	if bidOK && len(milestones) > 0 {
		checkTotal(milestones, bid, "bid amount", v)
	}
	if err := v.Err(); err != nil {
		metrics.IncRejected("submit_proposal", "validation")
		return ProposalResponse{}, err
	}

	drafts := make([]model.DraftMilestone, 0, len(milestones))
	for _, m := range Resequence(milestones) {
		drafts = append(drafts, model.DraftMilestone{
			Sequence:    m.Sequence,
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
		})
	}

	proposal := model.Proposal{
		ServiceRequestID: sr.ID,
		ProviderID:       providerID,
		BidAmount:        bid,
		TimelineDays:     req.TimelineDays,
		CoverLetter:      strings.TrimSpace(req.CoverLetter),
		Status:           model.ProposalPending,
		DraftMilestones:  datatypes.NewJSONType(drafts),
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.proposalRepo.Create(txCtx, &proposal); err != nil {
			return fmt.Errorf("failed to create proposal: %w", err)
		}
		return audit(txCtx, s.auditRepo, providerID, model.ActionSubmitProposal, proposal.ID.String(), sr.Title, map[string]interface{}{
			"service_request_id": sr.ID.String(),
			"bid_amount":         bid.String(),
			"milestones":         len(drafts),
		})
	})
	if err != nil {
		return ProposalResponse{}, err
	}

	metrics.IncProposal("submitted")
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:     events.ProposalSubmitted,
		EntityID: proposal.ID.String(),
		ActorID:  providerID.String(),
		Data:     map[string]interface{}{"service_request_id": sr.ID.String(), "bid_amount": bid.String()},
	})

	return toProposalResponse(proposal), nil
}

func (s *proposalService) GetProposal(ctx context.Context, id string) (ProposalResponse, error) {
	proposalID, err := parseID(id, "proposal_id")
	if err != nil {
		return ProposalResponse{}, err
	}
	p, err := s.proposalRepo.FindByID(ctx, proposalID)
	if err != nil {
		return ProposalResponse{}, notFoundOr(err, "proposal", id)
	}
	return toProposalResponse(*p), nil
}

func (s *proposalService) ListProposals(ctx context.Context, serviceRequestID string, filter ProposalFilter) ([]ProposalResponse, int64, error) {
	srID, err := parseID(serviceRequestID, "service_request_id")
	if err != nil {
		return nil, 0, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	proposals, total, err := s.proposalRepo.ListByServiceRequest(ctx, srID, filter.Status, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch proposals: %w", err)
	}

	result := make([]ProposalResponse, 0, len(proposals))
	for _, p := range proposals {
		result = append(result, toProposalResponse(p))
	}
	return result, total, nil
}

// AcceptProposal turns a pending proposal into a project with an unlocked,
// unapproved milestone set. It succeeds at most once per proposal.
func (s *proposalService) AcceptProposal(ctx context.Context, id string, actorID uuid.UUID) (AcceptProposalResponse, error) {
	proposalID, err := parseID(id, "proposal_id")
	if err != nil {
		return AcceptProposalResponse{}, err
	}

	existing, err := s.proposalRepo.FindByID(ctx, proposalID)
	if err != nil {
		return AcceptProposalResponse{}, notFoundOr(err, "proposal", id)
	}

	// Proposals on one service request compete, so they share a lock key.
	unlock, err := s.locker.Lock(ctx, "service-request:"+existing.ServiceRequestID.String())
	if err != nil {
		return AcceptProposalResponse{}, fmt.Errorf("failed to acquire service request lock: %w", err)
	}
	defer unlock()

	var (
		proposal   *model.Proposal
		project    model.Project
		milestones []model.Milestone
		approval   model.MilestoneApproval
		rejected   int64
	)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, findErr := s.proposalRepo.FindByIDForUpdate(txCtx, proposalID)
		if findErr != nil {
			return notFoundOr(findErr, "proposal", id)
		}
		proposal = p

		sr, findErr := s.serviceRequestRepo.FindByIDForUpdate(txCtx, p.ServiceRequestID)
		if findErr != nil {
			return notFoundOr(findErr, "service request", p.ServiceRequestID.String())
		}
		if sr.CustomerID != actorID {
			return &ForbiddenError{Reason: "only the service request owner can accept proposals"}
		}
		if p.Status != model.ProposalPending {
			return &InvalidStateError{Entity: "proposal", State: p.Status, Op: "accept proposal"}
		}
		if sr.Status != model.ServiceRequestOpen {
			return &InvalidStateError{Entity: "service request", State: sr.Status, Op: "accept proposal"}
		}

		now := time.Now()
		p.Status = model.ProposalAccepted
		p.DecidedAt = &now
		if saveErr := s.proposalRepo.Update(txCtx, p); saveErr != nil {
			return fmt.Errorf("failed to update proposal: %w", saveErr)
		}

		n, rejErr := s.proposalRepo.RejectPending(txCtx, sr.ID, p.ID, siblingRejectionReason, now)
		if rejErr != nil {
			return fmt.Errorf("failed to close competing proposals: %w", rejErr)
		}
		rejected = n

		if updErr := s.serviceRequestRepo.UpdateStatus(txCtx, sr.ID, model.ServiceRequestAwarded); updErr != nil {
			return fmt.Errorf("failed to award service request: %w", updErr)
		}

		project = model.Project{
			ServiceRequestID: sr.ID,
			ProposalID:       p.ID,
			CompanyID:        sr.CustomerID,
			ProviderID:       p.ProviderID,
			ApprovedAmount:   p.BidAmount,
			Status:           model.ProjectNegotiating,
		}
		if createErr := s.projectRepo.Create(txCtx, &project); createErr != nil {
			return fmt.Errorf("failed to create project: %w", createErr)
		}

		drafts := p.DraftMilestones.Data()
		copied := make([]model.Milestone, 0, len(drafts))
		for _, d := range drafts {
			copied = append(copied, model.Milestone{
				ProjectID:   project.ID,
				Sequence:    d.Sequence,
				Title:       d.Title,
				Description: d.Description,
				Amount:      d.Amount,
				DueDate:     d.DueDate,
				Status:      model.MilestonePending,
			})
		}
		milestones = Resequence(copied)
		if createErr := s.milestoneRepo.CreateBatch(txCtx, milestones); createErr != nil {
			return fmt.Errorf("failed to create milestones: %w", createErr)
		}

		approval = model.MilestoneApproval{ProjectID: project.ID, State: model.ApprovalUnlockedNone}
		if createErr := s.approvalRepo.Create(txCtx, &approval); createErr != nil {
			return fmt.Errorf("failed to initialize milestone approval: %w", createErr)
		}

		return audit(txCtx, s.auditRepo, actorID, model.ActionAcceptProposal, p.ID.String(), sr.Title, map[string]interface{}{
			"project_id":         project.ID.String(),
			"approved_amount":    p.BidAmount.String(),
			"rejected_proposals": n,
		})
	})
	if err != nil {
		recordRejection("accept_proposal", err)
		return AcceptProposalResponse{}, err
	}

	metrics.IncProposal("accepted")
	s.logger.Info("proposal accepted",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("project_id", project.ID.String()),
		zap.Int64("rejected_siblings", rejected),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.ProposalAccepted,
		ProjectID: project.ID.String(),
		EntityID:  proposal.ID.String(),
		ActorID:   actorID.String(),
		Data:      map[string]interface{}{"approved_amount": project.ApprovedAmount.String()},
	})

	return AcceptProposalResponse{
		Proposal:   toProposalResponse(*proposal),
		ProjectID:  project.ID.String(),
		Milestones: toMilestoneResponses(milestones),
		Approval:   toApprovalStateResponse(approval),
	}, nil
}

func (s *proposalService) RejectProposal(ctx context.Context, id string, actorID uuid.UUID, reason string) (ProposalResponse, error) {
	proposalID, err := parseID(id, "proposal_id")
	if err != nil {
		return ProposalResponse{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		v := &ValidationError{}
		v.Add("reason", "a rejection reason is required")
		return ProposalResponse{}, v
	}

	existing, err := s.proposalRepo.FindByID(ctx, proposalID)
	if err != nil {
		return ProposalResponse{}, notFoundOr(err, "proposal", id)
	}
	unlock, err := s.locker.Lock(ctx, "service-request:"+existing.ServiceRequestID.String())
	if err != nil {
		return ProposalResponse{}, fmt.Errorf("failed to acquire service request lock: %w", err)
	}
	defer unlock()

	var proposal *model.Proposal
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, findErr := s.proposalRepo.FindByIDForUpdate(txCtx, proposalID)
		if findErr != nil {
			return notFoundOr(findErr, "proposal", id)
		}
		proposal = p

		sr, findErr := s.serviceRequestRepo.FindByID(txCtx, p.ServiceRequestID)
		if findErr != nil {
			return notFoundOr(findErr, "service request", p.ServiceRequestID.String())
		}
		if sr.CustomerID != actorID {
			return &ForbiddenError{Reason: "only the service request owner can reject proposals"}
		}
		if p.Status != model.ProposalPending {
			return &InvalidStateError{Entity: "proposal", State: p.Status, Op: "reject proposal"}
		}

		now := time.Now()
		p.Status = model.ProposalRejected
		p.RejectionReason = reason
		p.DecidedAt = &now
		if saveErr := s.proposalRepo.Update(txCtx, p); saveErr != nil {
			return fmt.Errorf("failed to update proposal: %w", saveErr)
		}

		return audit(txCtx, s.auditRepo, actorID, model.ActionRejectProposal, p.ID.String(), sr.Title, map[string]interface{}{
			"reason": reason,
		})
	})
	if err != nil {
		recordRejection("reject_proposal", err)
		return ProposalResponse{}, err
	}

	metrics.IncProposal("rejected")
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:     events.ProposalRejected,
		EntityID: proposal.ID.String(),
		ActorID:  actorID.String(),
		Data:     map[string]interface{}{"reason": reason},
	})

	return toProposalResponse(*proposal), nil
}

// --- Helpers ---

func toServiceRequestResponse(sr model.ServiceRequest) ServiceRequestResponse {
	return ServiceRequestResponse{
		ID:           sr.ID.String(),
		CustomerID:   sr.CustomerID.String(),
		Title:        sr.Title,
		Description:  sr.Description,
		BudgetMin:    sr.BudgetMin.StringFixed(2),
		BudgetMax:    sr.BudgetMax.StringFixed(2),
		TimelineDays: sr.TimelineDays,
		Status:       sr.Status,
		CreatedAt:    sr.CreatedAt.Format(time.RFC3339),
	}
}

func toProposalResponse(p model.Proposal) ProposalResponse {
	drafts := p.DraftMilestones.Data()
	milestones := make([]MilestoneResponse, 0, len(drafts))
	for _, d := range drafts {
		milestones = append(milestones, toMilestoneResponse(model.Milestone{
			Sequence:    d.Sequence,
			Title:       d.Title,
			Description: d.Description,
			Amount:      d.Amount,
			DueDate:     d.DueDate,
		}))
	}

	resp := ProposalResponse{
		ID:               p.ID.String(),
		ServiceRequestID: p.ServiceRequestID.String(),
		ProviderID:       p.ProviderID.String(),
		BidAmount:        p.BidAmount.StringFixed(2),
		TimelineDays:     p.TimelineDays,
		CoverLetter:      p.CoverLetter,
		Status:           p.Status,
		RejectionReason:  p.RejectionReason,
		Milestones:       milestones,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
	if p.DecidedAt != nil {
		s := p.DecidedAt.Format(time.RFC3339)
		resp.DecidedAt = &s
	}
	return resp
}
