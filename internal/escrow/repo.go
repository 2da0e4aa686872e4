package escrow

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

const defaultListLimit = 50

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments/bookings repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&booking).Error
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("paystack_ref = ?", reference).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrNoRows
	}
	return nil
}

func (r *repository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrNoRows
	}
	return nil
}

// ListPendingPayments returns PENDING payments created inside (newerThan, olderThan], oldest first.
func (r *repository) ListPendingPayments(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.PaymentStatusPending).
		Where("created_at <= ?", olderThan)
	if !newerThan.IsZero() {
		query = query.Where("created_at > ?", newerThan)
	}
	var payments []models.Payment
	err := query.Order("created_at ASC").Limit(limit).Find(&payments).Error
	return payments, err
}

func (r *repository) ListRecentPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var payments []models.Payment
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&payments).Error
	return payments, err
}
