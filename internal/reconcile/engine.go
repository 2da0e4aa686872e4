package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

// Trust selects how much a raw (schema-invalid) gateway answer is believed.
type Trust int

const (
	// TrustCorroborated acts on a raw success only when a verified charge.success
	// delivery was recorded for the reference.
	TrustCorroborated Trust = iota
	// TrustSignedDelivery is used while handling a signed webhook delivery.
	TrustSignedDelivery
)

// Caller identifies who asked for reconciliation. A zero Caller skips ownership checks.
type Caller struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// Snapshot is the payment state returned to callers.
type Snapshot struct {
	PaymentID     uuid.UUID           `json:"paymentId"`
	BookingID     uuid.UUID           `json:"bookingId"`
	Reference     string              `json:"reference"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	BookingStatus enums.BookingStatus `json:"bookingStatus"`
	TransactionID *string             `json:"transactionId,omitempty"`
	PaidAt        *time.Time          `json:"paidAt,omitempty"`
	Updated       bool                `json:"updated"`
	Message       string              `json:"message,omitempty"`
}

// RecoverInput addresses a payment by id or by its booking.
type RecoverInput struct {
	PaymentID uuid.UUID
	BookingID uuid.UUID
}

type EngineParams struct {
	Repo     paymentReader
	Machine  transitioner
	Gateway  Gateway
	Evidence Evidence
	Notifier notifications.Notifier
	Logger   *logger.Logger
}

// Engine settles PENDING payments by asking the gateway what happened.
type Engine struct {
	repo     paymentReader
	machine  transitioner
	gateway  Gateway
	evidence Evidence
	notifier notifications.Notifier
	logg     *logger.Logger
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("escrow machine required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Evidence == nil {
		return nil, fmt.Errorf("webhook evidence store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	return &Engine{
		repo:     params.Repo,
		machine:  params.Machine,
		gateway:  params.Gateway,
		evidence: params.Evidence,
		notifier: notifier,
		logg:     params.Logger,
	}, nil
}

// Verify reconciles the payment with the given gateway reference.
func (e *Engine) Verify(ctx context.Context, caller Caller, reference string) (*Snapshot, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	payment, err := e.repo.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, notFound(err, "payment not found")
	}
	return e.run(ctx, caller, payment, TrustCorroborated)
}

// Recover reconciles a payment addressed by payment id or booking id.
func (e *Engine) Recover(ctx context.Context, caller Caller, input RecoverInput) (*Snapshot, error) {
	var (
		payment *models.Payment
		err     error
	)
	switch {
	case input.PaymentID != uuid.Nil:
		payment, err = e.repo.FindPayment(ctx, input.PaymentID)
	case input.BookingID != uuid.Nil:
		payment, err = e.repo.FindPaymentByBookingID(ctx, input.BookingID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentId or bookingId required")
	}
	if err != nil {
		return nil, notFound(err, "payment not found")
	}
	return e.run(ctx, caller, payment, TrustCorroborated)
}

// Reconcile settles an already loaded payment. Webhook and cron callers use it directly.
func (e *Engine) Reconcile(ctx context.Context, payment *models.Payment, trust Trust) (*Snapshot, error) {
	return e.run(ctx, Caller{}, payment, trust)
}

func (e *Engine) run(ctx context.Context, caller Caller, payment *models.Payment, trust Trust) (*Snapshot, error) {
	ctx = e.logg.WithPaymentRef(ctx, payment.PaystackRef)

	booking, err := e.repo.FindBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, notFound(err, "booking not found")
	}
	if err := authorize(caller, booking); err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusPending {
		snap := snapshot(payment, booking)
		snap.Message = "payment already processed"
		return snap, nil
	}

	status, transactionID, paidAt, err := e.gatewayStatus(ctx, payment, trust)
	if err != nil {
		return nil, err
	}

	switch status {
	case paystack.TransactionSuccess:
		return e.confirm(ctx, payment, transactionID, paidAt, nil)
	case paystack.TransactionAbandoned:
		return e.confirm(ctx, payment, transactionID, paidAt, abandonedGuard)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "payment could not be verified with the gateway").
			WithDetails(pkgerrors.StateDetails{
				Reason:        "gateway_status",
				CurrentStatus: payment.Status.String(),
				BookingStatus: booking.Status.String(),
				GatewayStatus: status,
			})
	}
}

// gatewayStatus asks the gateway for the transaction status, falling back to the
// untyped endpoint when the typed answer fails shape validation.
func (e *Engine) gatewayStatus(ctx context.Context, payment *models.Payment, trust Trust) (string, string, *time.Time, error) {
	reference := payment.PaystackRef
	verification, err := e.gateway.VerifyPayment(ctx, reference)
	if err == nil {
		if verification.Status == paystack.TransactionSuccess && !verification.Amount.IsZero() && !verification.Amount.Equal(payment.Amount) {
			return "", "", nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "gateway amount does not match the booking payment").
				WithDetails(pkgerrors.StateDetails{
					Reason:        "amount_mismatch",
					CurrentStatus: payment.Status.String(),
					GatewayStatus: verification.Status,
				})
		}
		return verification.Status, verification.TransactionID, verification.PaidAt, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeGatewaySchema) {
		return "", "", nil, err
	}

	e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "typed verification failed shape validation, using raw fallback")
	raw, rawErr := e.gateway.VerifyPaymentRaw(ctx, reference)
	if rawErr != nil {
		return "", "", nil, rawErr
	}
	if raw.Status == paystack.TransactionSuccess && trust != TrustSignedDelivery {
		corroborated, evErr := e.evidence.HasVerifiedCharge(ctx, reference)
		if evErr != nil {
			return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeDependency, evErr, "check webhook evidence")
		}
		if !corroborated {
			return "", "", nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "unable to confirm payment, try again shortly").
				WithDetails(pkgerrors.StateDetails{Reason: "uncorroborated", GatewayStatus: raw.Status})
		}
	}
	return raw.Status, raw.TransactionID, raw.PaidAt, nil
}

func (e *Engine) confirm(ctx context.Context, payment *models.Payment, transactionID string, paidAt *time.Time, guard func(*models.Payment, *models.Booking) error) (*Snapshot, error) {
	result, err := e.machine.Apply(ctx, escrow.Request{
		Transition:    escrow.ConfirmCharge,
		PaymentID:     payment.ID,
		TransactionID: transactionID,
		PaidAt:        paidAt,
		Guard:         guard,
	})
	if err != nil {
		return nil, err
	}

	snap := snapshot(&result.Payment, &result.Booking)
	snap.Updated = result.Applied
	snap.Message = result.Note
	if result.Applied {
		e.notifier.Notify(ctx, notifications.Notification{
			Event:     enums.EventPaymentReceived,
			Payment:   result.Payment,
			Booking:   result.Booking,
			Audiences: []payloads.Audience{payloads.AudienceProvider},
			Message:   "payment received and held in escrow",
		})
	}
	return snap, nil
}

// abandonedGuard only lets an abandoned charge settle when the booking shows the work
// already happened.
func abandonedGuard(payment *models.Payment, booking *models.Booking) error {
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}
	switch booking.Status {
	case enums.BookingStatusAwaitingConfirmation, enums.BookingStatusCompleted:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePaymentAbandoned, "payment was abandoned, please contact support").
		WithDetails(pkgerrors.StateDetails{
			Reason:        "abandoned",
			CurrentStatus: payment.Status.String(),
			BookingStatus: booking.Status.String(),
			GatewayStatus: paystack.TransactionAbandoned,
		})
}

func authorize(caller Caller, booking *models.Booking) error {
	if caller.UserID == uuid.Nil || caller.Role == enums.UserRoleAdmin {
		return nil
	}
	if booking.ClientID != caller.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the booking client can verify this payment")
	}
	return nil
}

func snapshot(payment *models.Payment, booking *models.Booking) *Snapshot {
	return &Snapshot{
		PaymentID:     payment.ID,
		BookingID:     payment.BookingID,
		Reference:     payment.PaystackRef,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PaymentStatus: payment.Status,
		BookingStatus: booking.Status,
		TransactionID: payment.TransactionID,
		PaidAt:        payment.PaidAt,
	}
}

func notFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}
