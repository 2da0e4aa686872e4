package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/servicehub-backend/api/middleware"
	"github.com/angelmondragon/servicehub-backend/api/responses"
	"github.com/angelmondragon/servicehub-backend/api/validators"
	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	gatewaywebhook "github.com/angelmondragon/servicehub-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

// WebhookActivityReader lists recent gateway traffic.
type WebhookActivityReader interface {
	Recent(ctx context.Context, limit int) (*gatewaywebhook.Activity, error)
}

// PaymentRefunder applies the ledger refund transition.
type PaymentRefunder interface {
	Refund(ctx context.Context, actorID, paymentID uuid.UUID) (*escrow.Result, error)
}

type refundResponse struct {
	PaymentID uuid.UUID   `json:"paymentId"`
	BookingID uuid.UUID   `json:"bookingId"`
	Applied   bool        `json:"applied"`
	Previous  escrow.Pair `json:"previous"`
	Current   escrow.Pair `json:"current"`
	Note      string      `json:"note,omitempty"`
}

// AdminGatewayWebhooks lists recent gateway deliveries alongside recent payments.
func AdminGatewayWebhooks(svc WebhookActivityReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activity, err := svc.Recent(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, activity)
	}
}

// AdminRefundPayment returns escrowed funds to the client on the ledger.
func AdminRefundPayment(svc PaymentRefunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WritePaymentError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WritePaymentError(r.Context(), logg, w, err)
			return
		}
		actorID := middleware.CallerIDFromContext(r.Context())

		result, err := svc.Refund(r.Context(), actorID, paymentID)
		if err != nil {
			responses.WritePaymentError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refundResponse{
			PaymentID: result.Payment.ID,
			BookingID: result.Booking.ID,
			Applied:   result.Applied,
			Previous:  result.Previous,
			Current:   result.Current,
			Note:      result.Note,
		})
	}
}
