package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

// Gateway is the verification surface of the payment gateway.
type Gateway interface {
	VerifyPayment(ctx context.Context, reference string) (*paystack.Verification, error)
	VerifyPaymentRaw(ctx context.Context, reference string) (*paystack.RawVerification, error)
}

// Evidence reports whether a signature-verified charge.success delivery was recorded.
type Evidence interface {
	HasVerifiedCharge(ctx context.Context, reference string) (bool, error)
}

type transitioner interface {
	Apply(ctx context.Context, req escrow.Request) (*escrow.Result, error)
}

type paymentReader interface {
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}
