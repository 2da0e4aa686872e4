package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindPayoutByReference(ctx context.Context, reference string) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Where("paystack_ref = ?", reference).First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) LockPayoutByReference(ctx context.Context, reference string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("paystack_ref = ?", reference).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrNoRows
	}
	return nil
}

// SupersedeOpenPayouts fails every open payout of the payment before a new attempt starts.
func (r *repository) SupersedeOpenPayouts(ctx context.Context, paymentID uuid.UUID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("payment_id = ? AND status IN ?", paymentID, []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Updates(map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListOpenPayouts(ctx context.Context, olderThan time.Time, limit int) ([]models.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&provider).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) SetRecipientCode(ctx context.Context, providerID uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ?", providerID).
		Update("recipient_code", code).Error
}
