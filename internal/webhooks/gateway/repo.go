package gatewaywebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

const maxErrorLength = 1024

// Repository persists the webhook audit log.
type Repository interface {
	Record(ctx context.Context, event *models.WebhookEvent) error
	HasProcessed(ctx context.Context, eventType, reference string) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkDuplicate(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	Annotate(ctx context.Context, id uuid.UUID, message string) error
	HasVerifiedCharge(ctx context.Context, reference string) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) HasProcessed(ctx context.Context, eventType, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_type = ? AND paystack_ref = ? AND processed = ? AND duplicate = ?", eventType, reference, true, false).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"processed":    true,
		"processed_at": at,
		"error":        nil,
	})
}

func (r *repository) MarkDuplicate(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"processed":    true,
		"duplicate":    true,
		"processed_at": at,
	})
}

// MarkFailed stores the error of a delivery the gateway will redeliver.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.update(ctx, id, map[string]any{
		"error":       clip(message),
		"retry_count": gorm.Expr("retry_count + 1"),
	})
}

// Annotate stores a note on an acknowledged delivery; retry_count is left alone.
func (r *repository) Annotate(ctx context.Context, id uuid.UUID, message string) error {
	return r.update(ctx, id, map[string]any{"error": clip(message)})
}

func clip(message string) string {
	if len(message) > maxErrorLength {
		return message[:maxErrorLength]
	}
	return message
}

// HasVerifiedCharge reports whether a signed charge.success delivery was recorded for reference.
func (r *repository) HasVerifiedCharge(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_type = ? AND paystack_ref = ? AND signature_verified = ?", paystack.EventChargeSuccess, reference, true).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrNoRows
	}
	return nil
}
