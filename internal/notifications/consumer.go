package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
)

type inboxWriter interface {
	CreateInbox(ctx context.Context, rows []models.Notification) (int64, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer turns published payment events into in-app notifications for each recipient.
type Consumer struct {
	repo         inboxWriter
	subscription receiver
	logg         *logger.Logger
}

// NewConsumer builds the inbox consumer.
func NewConsumer(repo inboxWriter, subscription receiver, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, subscription: subscription, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack     bool
	inserted int64
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	tmpl, ok := inboxTemplates[eventType]
	if !ok {
		c.logg.Info(logCtx, "skipping event without inbox template")
		return processResult{}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "dropping undecodable envelope", err)
		return processResult{}
	}
	eventID := envelope.ID()
	var payload inboxPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{}
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":    eventID.String(),
		"booking_id":  payload.BookingID.String(),
		"payment_ref": payload.Reference,
	})

	rows := compose(eventID, tmpl, payload)
	inserted, err := c.repo.CreateInbox(ctx, rows)
	if err != nil {
		c.logg.Error(logCtx, "failed to store notifications", err)
		return processResult{nack: true}
	}
	if inserted < int64(len(rows)) {
		c.logg.Info(logCtx, "event already delivered to some recipients")
	}
	c.logg.Info(c.logg.WithField(logCtx, "inserted", inserted), "inbox notifications stored")
	return processResult{inserted: inserted}
}

// inboxPayload is the union of the payment and payout event shapes.
type inboxPayload struct {
	PaymentID     uuid.UUID            `json:"paymentId"`
	BookingID     uuid.UUID            `json:"bookingId"`
	Reference     string               `json:"reference"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	FailureReason string               `json:"failureReason,omitempty"`
	Message       string               `json:"message,omitempty"`
	Recipients    []payloads.Recipient `json:"recipients"`
}

type inboxTemplate struct {
	kind  enums.NotificationType
	title map[payloads.Audience]string
	body  map[payloads.Audience]string
}

var inboxTemplates = map[enums.OutboxEventType]inboxTemplate{
	enums.EventPaymentReceived: {
		kind: enums.NotificationTypePayment,
		title: map[payloads.Audience]string{
			payloads.AudienceClient:   "Payment received",
			payloads.AudienceProvider: "Booking paid",
		},
		body: map[payloads.Audience]string{
			payloads.AudienceClient:   "Your payment of %s is held in escrow until the job is done.",
			payloads.AudienceProvider: "The client paid %s. Funds are held in escrow until the job is confirmed.",
		},
	},
	enums.EventPaymentFailed: {
		kind:  enums.NotificationTypePayment,
		title: map[payloads.Audience]string{payloads.AudienceClient: "Payment failed"},
		body:  map[payloads.Audience]string{payloads.AudienceClient: "Your payment of %s did not go through. You can try again."},
	},
	enums.EventPaymentReleasePending: {
		kind:  enums.NotificationTypePayout,
		title: map[payloads.Audience]string{payloads.AudienceProvider: "Payout processing"},
		body:  map[payloads.Audience]string{payloads.AudienceProvider: "Your payout of %s is on its way."},
	},
	enums.EventPaymentReleased: {
		kind: enums.NotificationTypePayout,
		title: map[payloads.Audience]string{
			payloads.AudienceClient:   "Payment released",
			payloads.AudienceProvider: "Payout sent",
		},
		body: map[payloads.Audience]string{
			payloads.AudienceClient:   "You released %s to the provider.",
			payloads.AudienceProvider: "%s has been sent to your bank account.",
		},
	},
	enums.EventPayoutFailed: {
		kind:  enums.NotificationTypePayout,
		title: map[payloads.Audience]string{payloads.AudienceProvider: "Payout failed"},
		body:  map[payloads.Audience]string{payloads.AudienceProvider: "Your payout of %s failed. The funds remain in escrow."},
	},
	enums.EventCashPaymentReported: {
		kind: enums.NotificationTypePayment,
		title: map[payloads.Audience]string{
			payloads.AudienceClient:   "Cash payment recorded",
			payloads.AudienceProvider: "Cash payment recorded",
		},
		body: map[payloads.Audience]string{
			payloads.AudienceClient:   "Your cash payment of %s was recorded.",
			payloads.AudienceProvider: "The client reported a cash payment of %s.",
		},
	},
	enums.EventPaymentRefunded: {
		kind: enums.NotificationTypeRefund,
		title: map[payloads.Audience]string{
			payloads.AudienceClient:   "Payment refunded",
			payloads.AudienceProvider: "Booking refunded",
		},
		body: map[payloads.Audience]string{
			payloads.AudienceClient:   "Your payment of %s was refunded.",
			payloads.AudienceProvider: "The escrowed payment of %s was refunded to the client.",
		},
	},
}

func compose(eventID uuid.UUID, tmpl inboxTemplate, payload inboxPayload) []models.Notification {
	amount := strings.TrimSpace(payload.Currency + " " + payload.Amount.StringFixed(2))
	link := fmt.Sprintf("/bookings/%s", payload.BookingID)
	seen := map[uuid.UUID]struct{}{}

	rows := make([]models.Notification, 0, len(payload.Recipients))
	for _, recipient := range payload.Recipients {
		if recipient.UserID == uuid.Nil {
			continue
		}
		if _, dup := seen[recipient.UserID]; dup {
			continue
		}
		title, ok := tmpl.title[recipient.Audience]
		if !ok {
			continue
		}
		seen[recipient.UserID] = struct{}{}

		message := fmt.Sprintf(tmpl.body[recipient.Audience], amount)
		if payload.FailureReason != "" {
			message += " Reason: " + payload.FailureReason
		}
		if payload.Message != "" {
			message += " " + payload.Message
		}
		rows = append(rows, models.Notification{
			ID:        uuid.New(),
			EventID:   eventID,
			UserID:    recipient.UserID,
			BookingID: payload.BookingID,
			Type:      tmpl.kind,
			Title:     title,
			Message:   strings.TrimSpace(message),
			Link:      &link,
		})
	}
	return rows
}
