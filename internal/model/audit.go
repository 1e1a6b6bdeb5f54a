package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreateServiceRequest = "CREATE_SERVICE_REQUEST"
	ActionSubmitProposal       = "SUBMIT_PROPOSAL"
	ActionAcceptProposal       = "ACCEPT_PROPOSAL"
	ActionRejectProposal       = "REJECT_PROPOSAL"

	// Negotiation actions
	ActionEditMilestones     = "EDIT_MILESTONES"
	ActionApproveMilestones  = "APPROVE_MILESTONES"
	ActionLockMilestones     = "LOCK_MILESTONES"
	ActionApproveDeliverable = "APPROVE_DELIVERABLE"

	// Ledger actions
	ActionFundMilestone    = "FUND_MILESTONE"
	ActionEscrowPayment    = "ESCROW_PAYMENT"
	ActionReleaseMilestone = "RELEASE_MILESTONE"
	ActionUploadProof      = "UPLOAD_TRANSFER_PROOF"
	ActionConfirmTransfer  = "CONFIRM_TRANSFER"
	ActionAddPayoutMethod  = "ADD_PAYOUT_METHOD"
)

// AuditLog tracks Who, What, and When for every state transition
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id"` // nil for webhook-driven changes
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
