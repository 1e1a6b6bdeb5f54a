package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransferProofRepository interface {
	Create(ctx context.Context, p *model.TransferProof) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.TransferProof, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]model.TransferProof, error)
}

type transferProofRepository struct {
	db *gorm.DB
}

func NewTransferProofRepository(db *gorm.DB) TransferProofRepository {
	return &transferProofRepository{db: db}
}

func (r *transferProofRepository) Create(ctx context.Context, p *model.TransferProof) error {
	return GetDB(ctx, r.db).Create(p).Error
}

func (r *transferProofRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TransferProof, error) {
	var p model.TransferProof
	if err := GetDB(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *transferProofRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]model.TransferProof, error) {
	var proofs []model.TransferProof
	if err := GetDB(ctx, r.db).Where("payment_id = ?", paymentID).Order("created_at DESC").Find(&proofs).Error; err != nil {
		return nil, err
	}
	return proofs, nil
}
