package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceRequestRepository interface {
	Create(ctx context.Context, req *model.ServiceRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type serviceRequestRepository struct {
	db *gorm.DB
}

func NewServiceRequestRepository(db *gorm.DB) ServiceRequestRepository {
	return &serviceRequestRepository{db: db}
}

func (r *serviceRequestRepository) Create(ctx context.Context, req *model.ServiceRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *serviceRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *serviceRequestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	if err := forUpdate(GetDB(ctx, r.db)).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *serviceRequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return GetDB(ctx, r.db).Model(&model.ServiceRequest{}).Where("id = ?", id).Update("status", status).Error
}
