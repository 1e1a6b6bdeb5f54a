package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectStatus enum constants
const (
	ProjectNegotiating = "NEGOTIATING"
	ProjectInProgress  = "IN_PROGRESS"
	ProjectCompleted   = "COMPLETED"
)

// Project is created when a proposal is accepted. ApprovedAmount is the accepted bid
// and bounds the milestone set.
type Project struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceRequestID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"service_request_id"`
	ProposalID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"proposal_id"`
	CompanyID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"company_id"`
	ProviderID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"provider_id"`
	ApprovedAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"approved_amount"`
	Status           string          `gorm:"type:varchar(20);not null;default:'NEGOTIATING';index" json:"status"`
	Milestones       []Milestone     `gorm:"foreignKey:ProjectID" json:"milestones,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsParty reports whether userID is the project's company or provider.
func (p *Project) IsParty(userID uuid.UUID) bool {
	return userID == p.CompanyID || userID == p.ProviderID
}
