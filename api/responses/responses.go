package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders the standard error envelope.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed, meta := classify(err)

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: publicMessage(typed, meta),
		},
	}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	logFailure(ctx, logg, err, typed)
	WriteJSON(w, meta.HTTPStatus, payload)
}

// WritePaymentError renders the flat error shape payment routes answer with, lifting
// state details to the top level so clients can tell "still processing" apart from a
// hard failure.
func WritePaymentError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed, meta := classify(err)

	payload := types.PaymentError{
		Error: publicMessage(typed, meta),
		Code:  string(typed.Code()),
	}
	if meta.DetailsAllowed {
		if state, ok := pkgerrors.StateDetailsOf(typed); ok {
			payload.CurrentStatus = state.CurrentStatus
			payload.ExpectedStatus = state.ExpectedStatus
			payload.BookingStatus = state.BookingStatus
			payload.Details = state
		} else if details := typed.Details(); details != nil {
			payload.Details = details
		}
	}

	logFailure(ctx, logg, err, typed)
	WriteJSON(w, meta.HTTPStatus, payload)
}

// WriteJSON writes payload as-is, without an envelope.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func classify(err error) (*pkgerrors.Error, pkgerrors.Metadata) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	return typed, pkgerrors.MetadataFor(typed.Code())
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeInvalidState,
		pkgerrors.CodeIdempotency,
		pkgerrors.CodeRateLimit,
		pkgerrors.CodeRecipientInvalid,
		pkgerrors.CodeTransferFailed,
		pkgerrors.CodePaymentAbandoned,
		pkgerrors.CodeVerificationFailed,
		pkgerrors.CodeSignatureInvalid:
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}

func logFailure(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error) {
	if logg == nil {
		return
	}
	ctx = logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
	if pkgerrors.MetadataFor(typed.Code()).HTTPStatus >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(logg.WithField(ctx, "error_code", string(typed.Code())), "request.rejected")
}
