package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransferProof is an uploaded bank-transfer receipt. It outlives failed
// confirmation attempts so admins never have to upload twice.
type TransferProof struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"payment_id"`
	DocumentURL string     `gorm:"type:text;not null" json:"document_url"`
	PublicID    string     `gorm:"type:varchar(255)" json:"public_id"`
	FileName    string     `gorm:"type:varchar(255)" json:"file_name"`
	UploadedBy  *uuid.UUID `gorm:"type:uuid" json:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (p *TransferProof) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
