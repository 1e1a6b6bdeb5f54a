package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MilestoneStatus enum constants
const (
	MilestonePending  = "PENDING"
	MilestoneFunded   = "FUNDED"
	MilestoneApproved = "APPROVED" // deliverable accepted by the customer
	MilestoneReleased = "RELEASED"
	MilestonePaid     = "PAID"
)

// Milestone is a priced, dated deliverable inside a project.
type Milestone struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID             uuid.UUID       `gorm:"type:uuid;not null;index" json:"project_id"`
	Sequence              int             `gorm:"not null" json:"sequence"`
	Title                 string          `gorm:"type:varchar(255);not null" json:"title"`
	Description           string          `gorm:"type:text;not null" json:"description"`
	Amount                decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	DueDate               time.Time       `gorm:"not null" json:"due_date"`
	Status                string          `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	DeliverableApprovedAt *time.Time      `json:"deliverable_approved_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (m *Milestone) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
