package payments

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/servicehub-backend/api/middleware"
	"github.com/angelmondragon/servicehub-backend/api/responses"
	"github.com/angelmondragon/servicehub-backend/api/validators"
	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/internal/reconcile"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

// Releaser moves escrowed funds on behalf of the booking's client.
type Releaser interface {
	Release(ctx context.Context, callerID, bookingID uuid.UUID) (*payouts.ReleaseResult, error)
	CashRelease(ctx context.Context, callerID, bookingID uuid.UUID) (*payouts.CashResult, error)
}

// Reconciler settles payments against the gateway on request.
type Reconciler interface {
	Verify(ctx context.Context, caller reconcile.Caller, reference string) (*reconcile.Snapshot, error)
	Recover(ctx context.Context, caller reconcile.Caller, input reconcile.RecoverInput) (*reconcile.Snapshot, error)
}

type bookingRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid"`
}

type verifyRequest struct {
	Reference string `json:"reference" validate:"required,max=128,gatewayref"`
}

type recoverRequest struct {
	PaymentID string `json:"paymentId" validate:"required_without=BookingID,omitempty,uuid"`
	BookingID string `json:"bookingId" validate:"omitempty,uuid"`
}

// Release pays the provider out of escrow.
func Release(svc Releaser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WritePaymentError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "release service unavailable"))
			return
		}

		callerID, bookingID, err := decodeBookingRequest(r)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithBookingID(ctx, bookingID.String())
		}

		result, err := svc.Release(ctx, callerID, bookingID)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, result)
	}
}

// CashRelease records that the client paid the provider in cash.
func CashRelease(svc Releaser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WritePaymentError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "release service unavailable"))
			return
		}

		callerID, bookingID, err := decodeBookingRequest(r)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithBookingID(ctx, bookingID.String())
		}

		result, err := svc.CashRelease(ctx, callerID, bookingID)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, result)
	}
}

// Verify reconciles a payment by gateway reference.
func Verify(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WritePaymentError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		caller, err := callerFrom(r)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}

		var body verifyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}

		snapshot, err := svc.Verify(ctx, caller, body.Reference)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, snapshot)
	}
}

// RecoverStatus reconciles a payment addressed by payment id or booking id.
func RecoverStatus(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WritePaymentError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		caller, err := callerFrom(r)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}

		var body recoverRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}

		input := reconcile.RecoverInput{}
		switch {
		case body.PaymentID != "":
			input.PaymentID = uuid.MustParse(body.PaymentID)
		case body.BookingID != "":
			input.BookingID = uuid.MustParse(body.BookingID)
		default:
			responses.WritePaymentError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "paymentId or bookingId required"))
			return
		}

		snapshot, err := svc.Recover(ctx, caller, input)
		if err != nil {
			responses.WritePaymentError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, snapshot)
	}
}

func decodeBookingRequest(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	callerID := middleware.CallerIDFromContext(r.Context())
	if callerID == uuid.Nil {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}

	var body bookingRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	// validated as a uuid above
	return callerID, uuid.MustParse(body.BookingID), nil
}

func callerFrom(r *http.Request) (reconcile.Caller, error) {
	callerID := middleware.CallerIDFromContext(r.Context())
	if callerID == uuid.Nil {
		return reconcile.Caller{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return reconcile.Caller{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid role")
	}
	return reconcile.Caller{UserID: callerID, Role: role}, nil
}
