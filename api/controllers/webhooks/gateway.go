package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/servicehub-backend/api/responses"
	gatewaywebhook "github.com/angelmondragon/servicehub-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

const (
	signatureHeader      = "x-paystack-signature"
	signatureHeaderAlias = "x-signature"
	defaultMaxBody       = 1 << 20
)

// GatewayWebhookService applies one signed gateway delivery.
type GatewayWebhookService interface {
	Handle(ctx context.Context, body []byte, signature string) (*gatewaywebhook.Outcome, error)
}

// GatewayWebhook acknowledges payment gateway events. The body is always
// {received, processed, message} so the gateway can tell acks from retries.
func GatewayWebhook(svc GatewayWebhookService, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			writeOutcome(w, http.StatusInternalServerError, false, "webhook service unavailable")
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if signature == "" {
			signature = strings.TrimSpace(r.Header.Get(signatureHeaderAlias))
		}
		if signature == "" {
			logWarn(ctx, logg, "webhook.signature_missing")
			writeOutcome(w, http.StatusBadRequest, false, "missing signature")
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeOutcome(w, http.StatusRequestEntityTooLarge, false, "payload too large")
				return
			}
			writeOutcome(w, http.StatusBadRequest, false, "unreadable body")
			return
		}

		outcome, err := svc.Handle(ctx, payload, signature)
		if err != nil {
			switch pkgerrors.CodeOf(err) {
			case pkgerrors.CodeSignatureInvalid:
				logWarn(ctx, logg, "webhook.signature_invalid")
				writeOutcome(w, http.StatusBadRequest, false, "invalid signature")
			case pkgerrors.CodeValidation:
				logWarn(ctx, logg, "webhook.payload_invalid")
				writeOutcome(w, http.StatusBadRequest, false, "invalid payload")
			default:
				if logg != nil {
					logg.Error(ctx, "webhook.processing_failed", err)
				}
				writeOutcome(w, http.StatusInternalServerError, true, "webhook processing failed")
			}
			return
		}

		responses.WriteJSON(w, http.StatusOK, outcome)
	}
}

func writeOutcome(w http.ResponseWriter, status int, received bool, message string) {
	responses.WriteJSON(w, status, gatewaywebhook.Outcome{
		Received: received,
		Message:  message,
	})
}

func logWarn(ctx context.Context, logg *logger.Logger, msg string) {
	if logg != nil {
		logg.Warn(ctx, msg)
	}
}
