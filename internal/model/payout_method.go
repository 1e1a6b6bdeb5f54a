package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutMethodType enum constants
const (
	PayoutBankAccount = "BANK_ACCOUNT"
	PayoutWallet      = "WALLET"
)

// PayoutMethod is a provider's registered destination for transferred funds.
type PayoutMethod struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProviderID uuid.UUID `gorm:"type:uuid;not null;index" json:"provider_id"`
	Type       string    `gorm:"type:varchar(20);not null" json:"type"`
	Label      string    `gorm:"type:varchar(255)" json:"label"`
	AccountRef string    `gorm:"type:varchar(255);not null" json:"account_ref"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p *PayoutMethod) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
