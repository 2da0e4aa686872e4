package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Booking is the partial view of a scheduled engagement the payment core reads and moves.
type Booking struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ClientID      uuid.UUID           `gorm:"column:client_id;type:uuid;not null"`
	ProviderID    uuid.UUID           `gorm:"column:provider_id;type:uuid;not null"`
	Status        enums.BookingStatus `gorm:"column:status;type:booking_status;not null;default:'PENDING'"`
	TotalAmount   decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	ScheduledDate time.Time           `gorm:"column:scheduled_date;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
