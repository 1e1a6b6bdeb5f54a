package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ServiceRequestStatus enum constants
const (
	ServiceRequestOpen    = "OPEN"
	ServiceRequestAwarded = "AWARDED"
)

// ServiceRequest is a customer's posted job that providers bid on.
type ServiceRequest struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"customer_id"`
	Title        string          `gorm:"type:varchar(255);not null" json:"title"`
	Description  string          `gorm:"type:text" json:"description"`
	BudgetMin    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"budget_min"`
	BudgetMax    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"budget_max"`
	TimelineDays int             `gorm:"not null" json:"timeline_days"`
	Status       string          `gorm:"type:varchar(20);not null;default:'OPEN';index" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (s *ServiceRequest) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
