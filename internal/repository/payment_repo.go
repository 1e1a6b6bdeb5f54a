package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	FindByMilestoneForUpdate(ctx context.Context, milestoneID uuid.UUID) (*model.Payment, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.Payment, error)
	Update(ctx context.Context, p *model.Payment) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	return GetDB(ctx, r.db).Omit("Milestone").Create(p).Error
}

func (r *paymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := GetDB(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := forUpdate(GetDB(ctx, r.db)).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) FindByMilestoneForUpdate(ctx context.Context, milestoneID uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := forUpdate(GetDB(ctx, r.db)).First(&p, "milestone_id = ?", milestoneID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.Payment, error) {
	var payments []model.Payment
	if err := GetDB(ctx, r.db).Preload("Milestone").Where("project_id = ?", projectID).
		Order("created_at ASC").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *model.Payment) error {
	return GetDB(ctx, r.db).Omit("Milestone").Save(p).Error
}
