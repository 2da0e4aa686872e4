package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Payout is a single transfer attempt of escrowed funds to a provider.
type Payout struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID             uuid.UUID           `gorm:"column:payment_id;type:uuid;not null"`
	PaystackRef           string              `gorm:"column:paystack_ref;not null"`
	TransferCode          *string             `gorm:"column:transfer_code"`
	RecipientCode         *string             `gorm:"column:recipient_code"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string              `gorm:"column:currency;not null;default:'NGN'"`
	Status                enums.PayoutStatus  `gorm:"column:status;type:payout_status;not null;default:'PENDING'"`
	FailureReason         *string             `gorm:"column:failure_reason"`
	PreviousPaymentStatus enums.PaymentStatus `gorm:"column:previous_payment_status;type:payment_status;not null"`
	PreviousBookingStatus enums.BookingStatus `gorm:"column:previous_booking_status;type:booking_status;not null"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
