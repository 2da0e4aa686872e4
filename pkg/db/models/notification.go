package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Notification is an in-app message for one user, derived from a payment outbox event.
// (event_id, user_id) is unique so redelivered events never duplicate a message.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventID   uuid.UUID              `gorm:"type:uuid;not null"`
	UserID    uuid.UUID              `gorm:"type:uuid;not null"`
	BookingID uuid.UUID              `gorm:"type:uuid;not null"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null"`
	Title     string                 `gorm:"type:text;not null"`
	Message   string                 `gorm:"type:text;not null"`
	Link      *string                `gorm:"type:text"`
	ReadAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time              `gorm:"type:timestamptz;default:now()"`
}
