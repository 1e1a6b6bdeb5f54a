package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, p *model.Project) error {
	return GetDB(ctx, r.db).Create(p).Error
}

func (r *projectRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	if err := GetDB(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return GetDB(ctx, r.db).Model(&model.Project{}).Where("id = ?", id).Update("status", status).Error
}
