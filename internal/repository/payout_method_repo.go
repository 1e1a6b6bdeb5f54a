package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutMethodRepository is the payout-method registry. The ledger only reads it.
type PayoutMethodRepository interface {
	Create(ctx context.Context, m *model.PayoutMethod) error
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]model.PayoutMethod, error)
	CountByProvider(ctx context.Context, providerID uuid.UUID) (int64, error)
}

type payoutMethodRepository struct {
	db *gorm.DB
}

func NewPayoutMethodRepository(db *gorm.DB) PayoutMethodRepository {
	return &payoutMethodRepository{db: db}
}

func (r *payoutMethodRepository) Create(ctx context.Context, m *model.PayoutMethod) error {
	return GetDB(ctx, r.db).Create(m).Error
}

func (r *payoutMethodRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]model.PayoutMethod, error) {
	var methods []model.PayoutMethod
	if err := GetDB(ctx, r.db).Where("provider_id = ?", providerID).Order("created_at ASC").Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *payoutMethodRepository) CountByProvider(ctx context.Context, providerID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.PayoutMethod{}).Where("provider_id = ?", providerID).Count(&count).Error
	return count, err
}
