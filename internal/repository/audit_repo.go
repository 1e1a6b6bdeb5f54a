package repository

import (
	"context"

	"marketplace/internal/model"

	"gorm.io/gorm"
)

type AuditFilter struct {
	Action   string
	EntityID string
}

type AuditRepository interface {
	Log(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter AuditFilter, page, limit int) ([]model.AuditLog, int64, error)
	CountByAction(ctx context.Context, action, entityID string) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter, page, limit int) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	query := r.filtered(GetDB(ctx, r.db).Model(&model.AuditLog{}), filter)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := r.filtered(GetDB(ctx, r.db), filter)
	if err := fetch.Order("created_at desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (r *auditRepository) CountByAction(ctx context.Context, action, entityID string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.AuditLog{}).
		Where("action = ? AND entity_id = ?", action, entityID).
		Count(&count).Error
	return count, err
}

func (r *auditRepository) filtered(db *gorm.DB, filter AuditFilter) *gorm.DB {
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	if filter.EntityID != "" {
		db = db.Where("entity_id = ?", filter.EntityID)
	}
	return db
}
