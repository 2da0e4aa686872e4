package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Payment is the escrow ledger row for a booking (1:1). Amount is in major units.
type Payment struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookingID     uuid.UUID           `gorm:"column:booking_id;type:uuid;not null"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string              `gorm:"column:currency;not null;default:'NGN'"`
	PaystackRef   string              `gorm:"column:paystack_ref;not null"`
	TransactionID *string             `gorm:"column:transaction_id"`
	Status        enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'PENDING'"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
