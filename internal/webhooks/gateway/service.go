package gatewaywebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/internal/reconcile"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

type signatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

type paymentStore interface {
	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListRecentPayments(ctx context.Context, limit int) ([]models.Payment, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, payment *models.Payment, trust reconcile.Trust) (*reconcile.Snapshot, error)
}

type settler interface {
	CompleteTransfer(ctx context.Context, reference, transferCode string) (*payouts.Settlement, error)
	FailTransfer(ctx context.Context, reference, reason string) (*payouts.Settlement, error)
}

type transitioner interface {
	Apply(ctx context.Context, req escrow.Request) (*escrow.Result, error)
}

type guard interface {
	Acquire(ctx context.Context, eventType, reference string) (string, bool, error)
	Release(ctx context.Context, eventType, reference, token string) error
}

type ServiceParams struct {
	Repo       Repository
	Payments   paymentStore
	Verifier   signatureVerifier
	Reconciler reconciler
	Payouts    settler
	Machine    transitioner
	Guard      guard
	Notifier   notifications.Notifier
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
	Now        func() time.Time
}

// Service applies signed gateway deliveries to the escrow lifecycle.
type Service struct {
	repo       Repository
	payments   paymentStore
	verifier   signatureVerifier
	reconciler reconciler
	payouts    settler
	machine    transitioner
	guard      guard
	notifier   notifications.Notifier
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repo required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payouts service required")
	}
	if params.Machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow machine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       params.Repo,
		payments:   params.Payments,
		verifier:   params.Verifier,
		reconciler: params.Reconciler,
		payouts:    params.Payouts,
		machine:    params.Machine,
		guard:      params.Guard,
		notifier:   notifier,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
	}, nil
}

// Outcome is the acknowledgement returned to the gateway.
type Outcome struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message"`
}

type dispatchResult struct {
	processed bool
	message   string
}

// unparsedEvent names audit rows whose body had no readable event name.
const unparsedEvent = "unparsed"

// Handle verifies, records and applies one delivery. A returned error means the
// gateway should retry; every other outcome is acknowledged.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (*Outcome, error) {
	if !s.verifier.VerifySignature(body, signature) {
		s.metrics.IncWebhook("unknown", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid webhook signature")
	}
	evt, err := paystack.ParseEvent(body)
	if err != nil {
		row := s.record(ctx, unparsedEvent, "", body)
		s.annotate(ctx, row, err.Error())
		s.metrics.IncWebhook("unknown", "invalid")
		return nil, err
	}
	reference := evt.Reference()
	ctx = s.logg.WithField(s.logg.WithPaymentRef(ctx, reference), "event", evt.Event)

	row := s.record(ctx, evt.Event, reference, body)

	if !supported(evt.Event) {
		s.metrics.IncWebhook("unsupported", "ignored")
		s.logg.Info(ctx, "webhook event not handled")
		return &Outcome{Received: true, Message: "event type not handled"}, nil
	}

	data, err := evt.Decode()
	if err != nil {
		s.annotate(ctx, row, err.Error())
		s.metrics.IncWebhook(evt.Event, "invalid")
		return nil, err
	}

	processed, err := s.repo.HasProcessed(ctx, evt.Event, data.Reference)
	if err != nil {
		s.logg.Error(ctx, "webhook dedupe lookup failed", err)
	}
	if processed {
		s.markDuplicate(ctx, row)
		s.metrics.IncWebhook(evt.Event, "duplicate")
		return &Outcome{Received: true, Processed: true, Duplicate: true, Message: "event already processed"}, nil
	}

	token, owned := s.acquire(ctx, evt.Event, data.Reference)
	if !owned {
		s.markDuplicate(ctx, row)
		s.metrics.IncWebhook(evt.Event, "in_flight")
		return &Outcome{Received: true, Duplicate: true, Message: "event is already being processed"}, nil
	}

	result, err := s.dispatch(ctx, evt.Event, data)
	if err != nil {
		s.fail(ctx, evt.Event, data.Reference, token, row, err)
		s.metrics.IncWebhook(evt.Event, "failed")
		return nil, err
	}
	defer s.release(ctx, evt.Event, data.Reference, token)

	if !result.processed {
		s.annotate(ctx, row, result.message)
		s.metrics.IncWebhook(evt.Event, "skipped")
		return &Outcome{Received: true, Message: result.message}, nil
	}

	outcome := &Outcome{Received: true, Processed: true, Message: result.message}
	if row != nil {
		if err := s.repo.MarkProcessed(ctx, row.ID, s.now().UTC()); err != nil {
			if db.IsUniqueViolation(err, "") {
				s.markDuplicate(ctx, row)
				outcome.Duplicate = true
			} else {
				s.logg.Error(ctx, "failed to mark webhook processed", err)
			}
		}
	}
	s.metrics.IncWebhook(evt.Event, "processed")
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, event string, data *paystack.EventData) (dispatchResult, error) {
	switch event {
	case paystack.EventChargeSuccess:
		return s.chargeSucceeded(ctx, data)
	case paystack.EventChargeFailed:
		return s.chargeFailed(ctx, data)
	case paystack.EventTransferSuccess:
		return settled(s.payouts.CompleteTransfer(ctx, data.Reference, data.TransferCode))
	case paystack.EventTransferFailed, paystack.EventTransferReversed:
		reason := data.FailureReason()
		if reason == "" {
			reason = event
		}
		return settled(s.payouts.FailTransfer(ctx, data.Reference, reason))
	default:
		return dispatchResult{message: "event type not handled"}, nil
	}
}

func (s *Service) chargeSucceeded(ctx context.Context, data *paystack.EventData) (dispatchResult, error) {
	payment, err := s.payments.FindPaymentByReference(ctx, data.Reference)
	if err != nil {
		return missingPayment(err)
	}
	snap, err := s.reconciler.Reconcile(ctx, payment, reconcile.TrustSignedDelivery)
	if err != nil {
		return dispatchResult{}, err
	}
	if !snap.Updated {
		return dispatchResult{processed: true, message: snap.Message}, nil
	}
	return dispatchResult{processed: true, message: "payment held in escrow"}, nil
}

func (s *Service) chargeFailed(ctx context.Context, data *paystack.EventData) (dispatchResult, error) {
	payment, err := s.payments.FindPaymentByReference(ctx, data.Reference)
	if err != nil {
		return missingPayment(err)
	}
	result, err := s.machine.Apply(ctx, escrow.Request{Transition: escrow.FailCharge, PaymentID: payment.ID})
	if err != nil {
		return dispatchResult{}, err
	}
	if !result.Applied {
		return dispatchResult{processed: true, message: result.Note}, nil
	}
	s.notifier.Notify(ctx, notifications.Notification{
		Event:     enums.EventPaymentFailed,
		Payment:   result.Payment,
		Booking:   result.Booking,
		Audiences: []payloads.Audience{payloads.AudienceClient},
		Message:   data.FailureReason(),
	})
	return dispatchResult{processed: true, message: "payment marked failed"}, nil
}

func settled(result *payouts.Settlement, err error) (dispatchResult, error) {
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return dispatchResult{message: "no payout for reference"}, nil
		}
		return dispatchResult{}, err
	}
	if !result.Applied {
		message := result.Note
		if message == "" {
			message = "transfer already settled"
		}
		return dispatchResult{processed: true, message: message}, nil
	}
	return dispatchResult{processed: true, message: fmt.Sprintf("payout %s", result.Payout.Status)}, nil
}

func missingPayment(err error) (dispatchResult, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dispatchResult{message: "no payment for reference"}, nil
	}
	return dispatchResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}

// record stores the delivery. Failures are logged and processing continues degraded.
func (s *Service) record(ctx context.Context, event, reference string, body []byte) *models.WebhookEvent {
	row := &models.WebhookEvent{
		ID:                uuid.New(),
		EventType:         event,
		PaystackRef:       reference,
		Payload:           auditPayload(body),
		SignatureVerified: true,
	}
	if err := s.repo.Record(ctx, row); err != nil {
		s.logg.Error(ctx, "webhook audit insert failed, continuing degraded", err)
		return nil
	}
	return row
}

func (s *Service) acquire(ctx context.Context, event, reference string) (string, bool) {
	if s.guard == nil {
		return "", true
	}
	token, owned, err := s.guard.Acquire(ctx, event, reference)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook guard unavailable, continuing without it")
		return "", true
	}
	return token, owned
}

// fail records a delivery the gateway will retry: the guard is dropped and the
// row's retry_count bumped.
func (s *Service) fail(ctx context.Context, event, reference, token string, row *models.WebhookEvent, cause error) {
	detached := context.WithoutCancel(ctx)
	s.logg.Error(detached, "webhook processing failed", cause)
	s.release(detached, event, reference, token)
	if row == nil {
		return
	}
	if err := s.repo.MarkFailed(detached, row.ID, cause.Error()); err != nil {
		s.logg.Error(detached, "failed to annotate webhook event", err)
	}
}

func (s *Service) release(ctx context.Context, event, reference, token string) {
	if s.guard == nil || token == "" {
		return
	}
	if err := s.guard.Release(context.WithoutCancel(ctx), event, reference, token); err != nil {
		s.logg.Error(ctx, "failed to release webhook guard", err)
	}
}

// annotate notes why a delivery had no effect without counting it as a failure.
func (s *Service) annotate(ctx context.Context, row *models.WebhookEvent, message string) {
	if row == nil {
		return
	}
	if err := s.repo.Annotate(ctx, row.ID, message); err != nil {
		s.logg.Error(ctx, "failed to annotate webhook event", err)
	}
}

func (s *Service) markDuplicate(ctx context.Context, row *models.WebhookEvent) {
	if row == nil {
		return
	}
	if err := s.repo.MarkDuplicate(ctx, row.ID, s.now().UTC()); err != nil {
		s.logg.Error(ctx, "failed to mark webhook duplicate", err)
	}
}

// auditPayload keeps unparseable bodies as a JSON string so the jsonb column accepts them.
func auditPayload(body []byte) datatypes.JSON {
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	quoted, _ := json.Marshal(string(body))
	return datatypes.JSON(quoted)
}

func supported(event string) bool {
	switch event {
	case paystack.EventChargeSuccess, paystack.EventChargeFailed,
		paystack.EventTransferSuccess, paystack.EventTransferFailed, paystack.EventTransferReversed:
		return true
	}
	return false
}

// Activity is the admin view of recent gateway traffic.
type Activity struct {
	Events   []models.WebhookEvent `json:"events"`
	Payments []models.Payment      `json:"payments"`
}

// Recent lists the latest deliveries and payments.
func (s *Service) Recent(ctx context.Context, limit int) (*Activity, error) {
	events, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook events")
	}
	payments, err := s.payments.ListRecentPayments(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return &Activity{Events: events, Payments: payments}, nil
}
