package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
)

// Notifier tells booking parties about payment changes. Calls never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Notification is one message about a committed escrow change.
type Notification struct {
	Event     enums.OutboxEventType
	Payment   models.Payment
	Booking   models.Booking
	Payout    *models.Payout
	Audiences []payloads.Audience
	Actor     *outbox.ActorRef
	Message   string
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB         txRunner
	Repo       Repository
	Outbox     emitter
	Logger     *logger.Logger
	Enabled    bool
	MaxRetries uint64
	Backoff    time.Duration
}

type Service struct {
	db         txRunner
	repo       Repository
	outbox     emitter
	logg       *logger.Logger
	enabled    bool
	maxRetries uint64
	backoff    time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Service{
		db:         params.DB,
		repo:       params.Repo,
		outbox:     params.Outbox,
		logg:       params.Logger,
		enabled:    params.Enabled,
		maxRetries: params.MaxRetries,
		backoff:    backoff,
	}, nil
}

// Notify queues the notification in its own transaction, retrying with backoff.
// It runs after the transition committed, so failures are logged and dropped.
func (s *Service) Notify(ctx context.Context, n Notification) {
	ctx = context.WithoutCancel(ctx)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_type":  n.Event,
		"payment_id":  n.Payment.ID.String(),
		"booking_id":  n.Booking.ID.String(),
		"payment_ref": n.Payment.PaystackRef,
	})
	if !s.enabled {
		s.logg.Debug(logCtx, "notification skipped, outbox disabled")
		return
	}

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(s.db.WithTx(ctx, func(tx *gorm.DB) error {
			event, err := s.build(ctx, tx, n)
			if err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, event)
		}))
	})
	if err != nil {
		s.logg.Error(logCtx, "notification dispatch failed", err)
		return
	}
	s.logg.Info(logCtx, "notification queued")
}

func (s *Service) build(ctx context.Context, tx *gorm.DB, n Notification) (outbox.DomainEvent, error) {
	recipients, err := s.recipients(ctx, tx, n)
	if err != nil {
		return outbox.DomainEvent{}, err
	}

	if n.Event.Aggregate() == enums.AggregatePayout {
		if n.Payout == nil {
			return outbox.DomainEvent{}, fmt.Errorf("%s notification needs a payout", n.Event)
		}
		payout := n.Payout
		data := payloads.PayoutEvent{
			PayoutID:   payout.ID,
			PaymentID:  n.Payment.ID,
			BookingID:  n.Booking.ID,
			Reference:  payout.PaystackRef,
			Amount:     payout.Amount,
			Currency:   payout.Currency,
			Status:     payout.Status,
			Recipients: recipients,
		}
		if payout.TransferCode != nil {
			data.TransferCode = *payout.TransferCode
		}
		if payout.FailureReason != nil {
			data.FailureReason = *payout.FailureReason
		}
		return outbox.DomainEvent{
			EventType:     n.Event,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         n.Actor,
			Data:          data,
		}, nil
	}

	return outbox.DomainEvent{
		EventType:     n.Event,
		AggregateType: enums.AggregatePayment,
		AggregateID:   n.Payment.ID,
		Actor:         n.Actor,
		Data: payloads.PaymentEvent{
			PaymentID:     n.Payment.ID,
			BookingID:     n.Booking.ID,
			Reference:     n.Payment.PaystackRef,
			Amount:        n.Payment.Amount,
			Currency:      n.Payment.Currency,
			PaymentStatus: n.Payment.Status,
			BookingStatus: n.Booking.Status,
			Recipients:    recipients,
			Message:       n.Message,
		},
	}, nil
}

func (s *Service) recipients(ctx context.Context, tx *gorm.DB, n Notification) ([]payloads.Recipient, error) {
	out := make([]payloads.Recipient, 0, len(n.Audiences))
	for _, audience := range n.Audiences {
		switch audience {
		case payloads.AudienceClient:
			out = append(out, payloads.Recipient{UserID: n.Booking.ClientID, Audience: audience})
		case payloads.AudienceProvider:
			userID, err := s.repo.WithTx(tx).ProviderUserID(ctx, n.Booking.ProviderID)
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && userID == uuid.Nil) {
				s.logg.Warn(s.logg.WithField(ctx, "provider_id", n.Booking.ProviderID.String()), "provider not found for notification")
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, payloads.Recipient{UserID: userID, Audience: audience})
		}
	}
	return out, nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
