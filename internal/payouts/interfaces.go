package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

// Repository defines persistence for payouts and provider payout destinations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePayout(ctx context.Context, payout *models.Payout) error
	FindPayoutByReference(ctx context.Context, reference string) (*models.Payout, error)
	LockPayoutByReference(ctx context.Context, reference string) (*models.Payout, error)
	UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SupersedeOpenPayouts(ctx context.Context, paymentID uuid.UUID, reason string) (int64, error)
	ListOpenPayouts(ctx context.Context, olderThan time.Time, limit int) ([]models.Payout, error)
	FindProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	SetRecipientCode(ctx context.Context, providerID uuid.UUID, code string) error
}

// Gateway is the transfer surface of the payment gateway.
type Gateway interface {
	CreateRecipient(ctx context.Context, params paystack.RecipientParams) (string, error)
	CreateTransfer(ctx context.Context, params paystack.TransferParams) (*paystack.Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (*paystack.Transfer, error)
}

type paymentReader interface {
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

type transitioner interface {
	Apply(ctx context.Context, req escrow.Request) (*escrow.Result, error)
}
