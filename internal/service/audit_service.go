package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace/internal/model"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditLogResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  string          `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, filter repository.AuditFilter, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

func (s *auditService) GetAuditLogs(ctx context.Context, filter repository.AuditFilter, page, limit int) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.auditRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		userID := ""
		if l.UserID != nil {
			userID = l.UserID.String()
		}
		details := json.RawMessage(l.Details)
		if len(details) == 0 {
			details = json.RawMessage("null")
		}
		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    details,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}

	return res, total, nil
}

// audit writes one audit row on the context's transaction.
func audit(ctx context.Context, repo repository.AuditRepository, userID uuid.UUID, action, entityID, entityName string, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	entry := &model.AuditLog{
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    datatypes.JSON(raw),
	}
	if userID != uuid.Nil {
		entry.UserID = &userID
	}
	if err := repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
