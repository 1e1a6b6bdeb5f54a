package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProposalStatus enum constants
const (
	ProposalPending  = "PENDING"
	ProposalAccepted = "ACCEPTED"
	ProposalRejected = "REJECTED"
)

// DraftMilestone is a provider-submitted milestone, kept verbatim on the proposal
// until acceptance copies it into the project's milestone set.
type DraftMilestone struct {
	Sequence    int             `json:"sequence"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date"`
}

// Proposal is a provider's bid against a service request.
// It is immutable once ACCEPTED or REJECTED.
type Proposal struct {
	ID               uuid.UUID                            `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceRequestID uuid.UUID                            `gorm:"type:uuid;not null;index" json:"service_request_id"`
	ServiceRequest   *ServiceRequest                      `gorm:"foreignKey:ServiceRequestID" json:"service_request,omitempty"`
	ProviderID       uuid.UUID                            `gorm:"type:uuid;not null;index" json:"provider_id"`
	BidAmount        decimal.Decimal                      `gorm:"type:decimal(18,2);not null" json:"bid_amount"`
	TimelineDays     int                                  `gorm:"not null" json:"timeline_days"`
	CoverLetter      string                               `gorm:"type:text" json:"cover_letter"`
	Status           string                               `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	RejectionReason  string                               `gorm:"type:text" json:"rejection_reason"`
	DraftMilestones  datatypes.JSONType[[]DraftMilestone] `json:"draft_milestones"`
	DecidedAt        *time.Time                           `json:"decided_at"`
	CreatedAt        time.Time                            `json:"created_at"`
	UpdatedAt        time.Time                            `json:"updated_at"`
}

func (p *Proposal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the proposal can no longer change.
func (p *Proposal) IsTerminal() bool {
	return p.Status == ProposalAccepted || p.Status == ProposalRejected
}
