package repository

import (
	"context"
	"time"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProposalRepository interface {
	Create(ctx context.Context, p *model.Proposal) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Proposal, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Proposal, error)
	ListByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID, status string, page, limit int) ([]model.Proposal, int64, error)
	Update(ctx context.Context, p *model.Proposal) error
	RejectPending(ctx context.Context, serviceRequestID, exceptID uuid.UUID, reason string, at time.Time) (int64, error)
}

type proposalRepository struct {
	db *gorm.DB
}

func NewProposalRepository(db *gorm.DB) ProposalRepository {
	return &proposalRepository{db: db}
}

func (r *proposalRepository) Create(ctx context.Context, p *model.Proposal) error {
	return GetDB(ctx, r.db).Create(p).Error
}

func (r *proposalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	var p model.Proposal
	if err := GetDB(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *proposalRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	var p model.Proposal
	if err := forUpdate(GetDB(ctx, r.db)).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *proposalRepository) ListByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID, status string, page, limit int) ([]model.Proposal, int64, error) {
	var proposals []model.Proposal
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Proposal{}).Where("service_request_id = ?", serviceRequestID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Where("service_request_id = ?", serviceRequestID)
	if status != "" {
		fetch = fetch.Where("status = ?", status)
	}
	if err := fetch.Order("created_at DESC").Offset(offset).Limit(limit).Find(&proposals).Error; err != nil {
		return nil, 0, err
	}

	return proposals, total, nil
}

func (r *proposalRepository) Update(ctx context.Context, p *model.Proposal) error {
	return GetDB(ctx, r.db).Save(p).Error
}

// RejectPending closes every other open proposal on a service request.
func (r *proposalRepository) RejectPending(ctx context.Context, serviceRequestID, exceptID uuid.UUID, reason string, at time.Time) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Proposal{}).
		Where("service_request_id = ? AND id <> ? AND status = ?", serviceRequestID, exceptID, model.ProposalPending).
		Updates(map[string]interface{}{
			"status":           model.ProposalRejected,
			"rejection_reason": reason,
			"decided_at":       at,
		})
	return result.RowsAffected, result.Error
}
