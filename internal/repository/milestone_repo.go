package repository

import (
	"context"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MilestoneRepository interface {
	CreateBatch(ctx context.Context, milestones []model.Milestone) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.Milestone, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Milestone, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Milestone, error)
	ReplaceSet(ctx context.Context, projectID uuid.UUID, milestones []model.Milestone) error
	UpdateStatus(ctx context.Context, m *model.Milestone) error
	CountNotInStatus(ctx context.Context, projectID uuid.UUID, status string) (int64, error)
}

type milestoneRepository struct {
	db *gorm.DB
}

func NewMilestoneRepository(db *gorm.DB) MilestoneRepository {
	return &milestoneRepository{db: db}
}

func (r *milestoneRepository) CreateBatch(ctx context.Context, milestones []model.Milestone) error {
	if len(milestones) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&milestones).Error
}

func (r *milestoneRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.Milestone, error) {
	var milestones []model.Milestone
	if err := GetDB(ctx, r.db).Where("project_id = ?", projectID).Order("sequence ASC").Find(&milestones).Error; err != nil {
		return nil, err
	}
	return milestones, nil
}

func (r *milestoneRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Milestone, error) {
	var m model.Milestone
	if err := GetDB(ctx, r.db).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *milestoneRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Milestone, error) {
	var m model.Milestone
	if err := forUpdate(GetDB(ctx, r.db)).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceSet makes the stored set equal to milestones: rows not in the set are
// deleted, known ids are updated and new ids are inserted. Call inside a transaction.
func (r *milestoneRepository) ReplaceSet(ctx context.Context, projectID uuid.UUID, milestones []model.Milestone) error {
	db := GetDB(ctx, r.db)

	keep := make([]uuid.UUID, 0, len(milestones))
	for _, m := range milestones {
		if m.ID != uuid.Nil {
			keep = append(keep, m.ID)
		}
	}

	del := db.Where("project_id = ?", projectID)
	if len(keep) > 0 {
		del = del.Where("id NOT IN ?", keep)
	}
	if err := del.Delete(&model.Milestone{}).Error; err != nil {
		return err
	}

	for i := range milestones {
		m := &milestones[i]
		m.ProjectID = projectID
		if m.ID == uuid.Nil {
			if err := db.Create(m).Error; err != nil {
				return err
			}
			continue
		}
		if err := db.Model(&model.Milestone{}).Where("id = ? AND project_id = ?", m.ID, projectID).
			Updates(map[string]interface{}{
				"sequence":    m.Sequence,
				"title":       m.Title,
				"description": m.Description,
				"amount":      m.Amount,
				"due_date":    m.DueDate,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *milestoneRepository) UpdateStatus(ctx context.Context, m *model.Milestone) error {
	return GetDB(ctx, r.db).Model(&model.Milestone{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"status":                  m.Status,
			"deliverable_approved_at": m.DeliverableApprovedAt,
		}).Error
}

func (r *milestoneRepository) CountNotInStatus(ctx context.Context, projectID uuid.UUID, status string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Milestone{}).
		Where("project_id = ? AND status <> ?", projectID, status).
		Count(&count).Error
	return count, err
}
