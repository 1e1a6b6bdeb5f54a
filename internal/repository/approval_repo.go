package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalRepository persists the per-project milestone approval gate.
type ApprovalRepository interface {
	Create(ctx context.Context, a *model.MilestoneApproval) error
	FindByProject(ctx context.Context, projectID uuid.UUID) (*model.MilestoneApproval, error)
	FindByProjectForUpdate(ctx context.Context, projectID uuid.UUID) (*model.MilestoneApproval, error)
	Update(ctx context.Context, a *model.MilestoneApproval) error
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, a *model.MilestoneApproval) error {
	return GetDB(ctx, r.db).Create(a).Error
}

func (r *approvalRepository) FindByProject(ctx context.Context, projectID uuid.UUID) (*model.MilestoneApproval, error) {
	var a model.MilestoneApproval
	if err := GetDB(ctx, r.db).First(&a, "project_id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *approvalRepository) FindByProjectForUpdate(ctx context.Context, projectID uuid.UUID) (*model.MilestoneApproval, error) {
	var a model.MilestoneApproval
	if err := forUpdate(GetDB(ctx, r.db)).First(&a, "project_id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *approvalRepository) Update(ctx context.Context, a *model.MilestoneApproval) error {
	return GetDB(ctx, r.db).Save(a).Error
}
