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
	"go.uber.org/zap"
)

type ApprovalStateResponse struct {
	State                string  `json:"state"`
	CompanyApproved      bool    `json:"company_approved"`
	ProviderApproved     bool    `json:"provider_approved"`
	Locked               bool    `json:"locked"`
	MilestonesApprovedAt *string `json:"milestones_approved_at"`
}

type MilestoneSetResponse struct {
	ProjectID      string                `json:"project_id"`
	ProjectStatus  string                `json:"project_status"`
	ApprovedAmount string                `json:"approved_amount"`
	Milestones     []MilestoneResponse   `json:"milestones"`
	Approval       ApprovalStateResponse `json:"approval"`
}

type EditMilestonesRequest struct {
	Milestones []MilestoneInput `json:"milestones"`
}

type ApproveMilestonesRequest struct {
	Actor string `json:"actor"` // COMPANY or PROVIDER
}

// MilestoneService negotiates a project's milestone set until both parties lock it.
type MilestoneService interface {
	GetMilestones(ctx context.Context, projectID string, actor Actor) (MilestoneSetResponse, error)
	EditMilestones(ctx context.Context, projectID string, actorID uuid.UUID, req EditMilestonesRequest) (MilestoneSetResponse, error)
	Approve(ctx context.Context, projectID string, actor string, actorID uuid.UUID) (MilestoneSetResponse, error)
	ApproveDeliverable(ctx context.Context, projectID, milestoneID string, actorID uuid.UUID) (MilestoneResponse, error)
}

type milestoneService struct {
	projectRepo   repository.ProjectRepository
	milestoneRepo repository.MilestoneRepository
	approvalRepo  repository.ApprovalRepository
	auditRepo     repository.AuditRepository
	txManager     repository.TransactionManager
	locker        lock.Locker
	publisher     events.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

func NewMilestoneService(
	projectRepo repository.ProjectRepository,
	milestoneRepo repository.MilestoneRepository,
	approvalRepo repository.ApprovalRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	locker lock.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
) MilestoneService {
	return &milestoneService{
		projectRepo:   projectRepo,
		milestoneRepo: milestoneRepo,
		approvalRepo:  approvalRepo,
		auditRepo:     auditRepo,
		txManager:     txManager,
		locker:        locker,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

func projectLockKey(projectID uuid.UUID) string {
	return "project:" + projectID.String()
}

func (s *milestoneService) GetMilestones(ctx context.Context, projectID string, actor Actor) (MilestoneSetResponse, error) {
	id, err := parseID(projectID, "project_id")
	if err != nil {
		return MilestoneSetResponse{}, err
	}

	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, notFoundOr(err, "project", projectID)
	}
	if !actor.partyTo(project) {
		return MilestoneSetResponse{}, &ForbiddenError{Reason: "only the project's parties can view its milestones"}
	}
	milestones, err := s.milestoneRepo.ListByProject(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, fmt.Errorf("failed to fetch milestones: %w", err)
	}
	approval, err := s.approvalRepo.FindByProject(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, notFoundOr(err, "milestone approval", projectID)
	}

	return toMilestoneSetResponse(*project, milestones, *approval), nil
}

// EditMilestones replaces the whole milestone set while it is unlocked.
// Approval flags already given are left as they are.
func (s *milestoneService) EditMilestones(ctx context.Context, projectID string, actorID uuid.UUID, req EditMilestonesRequest) (MilestoneSetResponse, error) {
	id, err := parseID(projectID, "project_id")
	if err != nil {
		return MilestoneSetResponse{}, err
	}

	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, notFoundOr(err, "project", projectID)
	}
	if !project.IsParty(actorID) {
		return MilestoneSetResponse{}, &ForbiddenError{Reason: "only the project's company or provider can edit milestones"}
	}

	unlock, err := s.locker.Lock(ctx, projectLockKey(id))
	if err != nil {
		return MilestoneSetResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var (
		approval *model.MilestoneApproval
		saved    []model.Milestone
	)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		a, findErr := s.approvalRepo.FindByProjectForUpdate(txCtx, id)
		if findErr != nil {
			return notFoundOr(findErr, "milestone approval", projectID)
		}
		approval = a
		if a.Locked() {
			return &InvalidStateError{Entity: "milestone set", State: a.State, Op: "edit milestones"}
		}

		current, listErr := s.milestoneRepo.ListByProject(txCtx, id)
		if listErr != nil {
			return fmt.Errorf("failed to fetch milestones: %w", listErr)
		}
		known := make(map[uuid.UUID]bool, len(current))
		for _, m := range current {
			known[m.ID] = true
		}

		v := &ValidationError{}
		next := parseMilestones(req.Milestones, startOfDay(s.now()), v)
		seen := make(map[uuid.UUID]bool, len(next))
		for i := range next {
			next[i].ProjectID = id
			mid := next[i].ID
			if mid == uuid.Nil {
				continue
			}
			field := fmt.Sprintf("milestones[%d].id", i)
			switch {
			case !known[mid]:
				v.Add(field, "milestone %s does not belong to this project", mid.String())
			case seen[mid]:
				v.Add(field, "milestone %s is listed more than once", mid.String())
			}
			seen[mid] = true
		}
		if len(next) > 0 {
			checkTotal(next, project.ApprovedAmount, "approved amount", v)
		}
		if vErr := v.Err(); vErr != nil {
			return vErr
		}

		saved = Resequence(next)
		if replaceErr := s.milestoneRepo.ReplaceSet(txCtx, id, saved); replaceErr != nil {
			return fmt.Errorf("failed to replace milestones: %w", replaceErr)
		}

		return audit(txCtx, s.auditRepo, actorID, model.ActionEditMilestones, id.String(), "", map[string]interface{}{
			"milestones": len(saved),
			"previous":   len(current),
			"total":      sumAmounts(saved).String(),
		})
	})
	if err != nil {
		recordRejection("edit_milestones", err)
		return MilestoneSetResponse{}, err
	}

	milestones, err := s.milestoneRepo.ListByProject(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, fmt.Errorf("failed to fetch milestones: %w", err)
	}

	s.logger.Info("milestones edited",
		zap.String("project_id", id.String()),
		zap.Int("count", len(milestones)),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.MilestonesEdited,
		ProjectID: id.String(),
		EntityID:  id.String(),
		ActorID:   actorID.String(),
		Data:      map[string]interface{}{"milestones": len(milestones)},
	})

	return toMilestoneSetResponse(*project, milestones, *approval), nil
}

// Approve records one party's approval. The second party's approval locks the
// set and starts the project in the same transaction.
func (s *milestoneService) Approve(ctx context.Context, projectID string, actor string, actorID uuid.UUID) (MilestoneSetResponse, error) {
	id, err := parseID(projectID, "project_id")
	if err != nil {
		return MilestoneSetResponse{}, err
	}
	if actor != model.ActorCompany && actor != model.ActorProvider {
		v := &ValidationError{}
		v.Add("actor", "actor must be %s or %s", model.ActorCompany, model.ActorProvider)
		return MilestoneSetResponse{}, v
	}

	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, notFoundOr(err, "project", projectID)
	}
	if (actor == model.ActorCompany && actorID != project.CompanyID) ||
		(actor == model.ActorProvider && actorID != project.ProviderID) {
		return MilestoneSetResponse{}, &ForbiddenError{Reason: "actor does not represent the " + actor + " side of this project"}
	}

	unlock, err := s.locker.Lock(ctx, projectLockKey(id))
	if err != nil {
		return MilestoneSetResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var (
		approval *model.MilestoneApproval
		previous string
	)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		a, findErr := s.approvalRepo.FindByProjectForUpdate(txCtx, id)
		if findErr != nil {
			return notFoundOr(findErr, "milestone approval", projectID)
		}
		approval = a
		previous = a.State

		next, transErr := model.NextApprovalState(a.State, actor)
		if errors.Is(transErr, model.ErrApprovalLocked) {
			return &InvalidStateError{Entity: "milestone set", State: a.State, Op: "approve milestones"}
		}
		if transErr != nil {
			return fmt.Errorf("failed to compute approval state: %w", transErr)
		}
		if next == a.State {
			return nil
		}

		a.State = next
		action := model.ActionApproveMilestones
		if next == model.ApprovalLocked {
			now := s.now()
			a.MilestonesApprovedAt = &now
			action = model.ActionLockMilestones

			if updErr := s.projectRepo.UpdateStatus(txCtx, id, model.ProjectInProgress); updErr != nil {
				return fmt.Errorf("failed to start project: %w", updErr)
			}
			project.Status = model.ProjectInProgress
		}
		if updErr := s.approvalRepo.Update(txCtx, a); updErr != nil {
			return fmt.Errorf("failed to update milestone approval: %w", updErr)
		}

		return audit(txCtx, s.auditRepo, actorID, action, id.String(), "", map[string]interface{}{
			"actor": actor,
			"from":  previous,
			"to":    next,
		})
	})
	if err != nil {
		recordRejection("approve_milestones", err)
		return MilestoneSetResponse{}, err
	}

	milestones, err := s.milestoneRepo.ListByProject(ctx, id)
	if err != nil {
		return MilestoneSetResponse{}, fmt.Errorf("failed to fetch milestones: %w", err)
	}

	if approval.State != previous {
		eventType := events.MilestonesApproved
		if approval.Locked() {
			eventType = events.MilestonesLocked
			metrics.IncMilestoneLock()
			s.logger.Info("milestones locked", zap.String("project_id", id.String()))
		}
		publishEvent(ctx, s.publisher, s.logger, events.Event{
			Type:      eventType,
			ProjectID: id.String(),
			EntityID:  id.String(),
			ActorID:   actorID.String(),
			Data:      map[string]interface{}{"actor": actor, "state": approval.State},
		})
	}

	return toMilestoneSetResponse(*project, milestones, *approval), nil
}

// ApproveDeliverable is the customer's acceptance of a funded milestone's work.
func (s *milestoneService) ApproveDeliverable(ctx context.Context, projectID, milestoneID string, actorID uuid.UUID) (MilestoneResponse, error) {
	pid, err := parseID(projectID, "project_id")
	if err != nil {
		return MilestoneResponse{}, err
	}
	mid, err := parseID(milestoneID, "milestone_id")
	if err != nil {
		return MilestoneResponse{}, err
	}

	project, err := s.projectRepo.FindByID(ctx, pid)
	if err != nil {
		return MilestoneResponse{}, notFoundOr(err, "project", projectID)
	}
	if actorID != project.CompanyID {
		return MilestoneResponse{}, &ForbiddenError{Reason: "only the project's company can approve deliverables"}
	}

	unlock, err := s.locker.Lock(ctx, projectLockKey(pid))
	if err != nil {
		return MilestoneResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var milestone *model.Milestone
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		a, findErr := s.approvalRepo.FindByProject(txCtx, pid)
		if findErr != nil {
			return notFoundOr(findErr, "milestone approval", projectID)
		}
		if !a.Locked() {
			return &InvalidStateError{Entity: "milestone set", State: a.State, Op: "approve deliverable"}
		}

		m, findErr := s.milestoneRepo.FindByIDForUpdate(txCtx, mid)
		if findErr != nil || m.ProjectID != pid {
			if findErr == nil {
				return &NotFoundError{Entity: "milestone", ID: milestoneID}
			}
			return notFoundOr(findErr, "milestone", milestoneID)
		}
		milestone = m
		if m.Status != model.MilestoneFunded {
			return &InvalidStateError{Entity: "milestone", State: m.Status, Op: "approve deliverable"}
		}

		now := s.now()
		m.Status = model.MilestoneApproved
		m.DeliverableApprovedAt = &now
		if updErr := s.milestoneRepo.UpdateStatus(txCtx, m); updErr != nil {
			return fmt.Errorf("failed to update milestone: %w", updErr)
		}

		return audit(txCtx, s.auditRepo, actorID, model.ActionApproveDeliverable, m.ID.String(), m.Title, map[string]interface{}{
			"project_id": pid.String(),
		})
	})
	if err != nil {
		recordRejection("approve_deliverable", err)
		return MilestoneResponse{}, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.DeliverableOK,
		ProjectID: pid.String(),
		EntityID:  milestone.ID.String(),
		ActorID:   actorID.String(),
	})

	return toMilestoneResponse(*milestone), nil
}

func toApprovalStateResponse(a model.MilestoneApproval) ApprovalStateResponse {
	resp := ApprovalStateResponse{
		State:            a.State,
		CompanyApproved:  a.CompanyApproved(),
		ProviderApproved: a.ProviderApproved(),
		Locked:           a.Locked(),
	}
	if a.MilestonesApprovedAt != nil {
		s := a.MilestonesApprovedAt.Format(time.RFC3339)
		resp.MilestonesApprovedAt = &s
	}
	return resp
}

func toMilestoneSetResponse(p model.Project, milestones []model.Milestone, a model.MilestoneApproval) MilestoneSetResponse {
	return MilestoneSetResponse{
		ProjectID:      p.ID.String(),
		ProjectStatus:  p.Status,
		ApprovedAmount: p.ApprovedAmount.StringFixed(2),
		Milestones:     toMilestoneResponses(milestones),
		Approval:       toApprovalStateResponse(a),
	}
}
