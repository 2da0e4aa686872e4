package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEvent is the append-only audit log of inbound gateway callbacks.
type WebhookEvent struct {
	ID                uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType         string         `gorm:"column:event_type;not null"`
	PaystackRef       string         `gorm:"column:paystack_ref;not null"`
	Payload           datatypes.JSON `gorm:"column:payload;type:jsonb;not null"`
	SignatureVerified bool           `gorm:"column:signature_verified;not null;default:false"`
	Processed         bool           `gorm:"column:processed;not null;default:false"`
	Duplicate         bool           `gorm:"column:duplicate;not null;default:false"`
	ProcessedAt       *time.Time     `gorm:"column:processed_at"`
	Error             *string        `gorm:"column:error"`
	RetryCount        int            `gorm:"column:retry_count;not null;default:0"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
