package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus enum constants
const (
	PaymentPending     = "PENDING"
	PaymentEscrowed    = "ESCROWED"
	PaymentReleased    = "RELEASED"
	PaymentTransferred = "TRANSFERRED"
)

// BankTransferStatus enum constants. The value tells how BankTransferRef was supplied.
const (
	BankTransferNone          = "NONE"
	BankTransferReference     = "REFERENCE"
	BankTransferProofDocument = "PROOF_DOCUMENT"
)

// PaymentMethodEscrow is the only funding method the ledger records today.
const PaymentMethodEscrow = "ESCROW"

// Payment is the escrow record of a single milestone.
// PlatformFeeAmount + ProviderAmount == Amount; both are fixed at funding time.
type Payment struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MilestoneID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"milestone_id"`
	Milestone          *Milestone      `gorm:"foreignKey:MilestoneID" json:"milestone,omitempty"`
	ProjectID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"project_id"`
	ProviderID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"provider_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	PlatformFeeRate    decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"platform_fee_rate"`
	PlatformFeeAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"platform_fee_amount"`
	ProviderAmount     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"provider_amount"`
	Method             string          `gorm:"type:varchar(30);not null" json:"method"`
	Status             string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	BankTransferRef    string          `gorm:"type:text" json:"bank_transfer_ref"`
	BankTransferStatus string          `gorm:"type:varchar(20);not null;default:'NONE'" json:"bank_transfer_status"`
	EscrowedAt         *time.Time      `json:"escrowed_at"`
	ReleasedAt         *time.Time      `json:"released_at"`
	TransferredAt      *time.Time      `json:"transferred_at"`
	TransferredBy      *uuid.UUID      `gorm:"type:uuid" json:"transferred_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// SplitFee computes the platform fee (rounded to cents) and the provider's share.
func SplitFee(amount, rate decimal.Decimal) (fee, provider decimal.Decimal) {
	fee = amount.Mul(rate).Round(2)
	return fee, amount.Sub(fee)
}
