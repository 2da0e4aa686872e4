package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Repository defines persistence operations for payments and bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdatePayment(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) error
	ListPendingPayments(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]models.Payment, error)
	ListRecentPayments(ctx context.Context, limit int) ([]models.Payment, error)
}

type txRunner interface {
	WithRetryableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
