package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider carries the payout destination of a service provider.
type Provider struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	BankName      string    `gorm:"column:bank_name"`
	BankCode      string    `gorm:"column:bank_code"`
	AccountNumber string    `gorm:"column:account_number"`
	AccountName   string    `gorm:"column:account_name"`
	RecipientCode *string   `gorm:"column:recipient_code"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// HasBankDetails reports whether a transfer recipient can be provisioned.
func (p Provider) HasBankDetails() bool {
	return strings.TrimSpace(p.BankCode) != "" &&
		strings.TrimSpace(p.AccountNumber) != "" &&
		strings.TrimSpace(p.AccountName) != ""
}
