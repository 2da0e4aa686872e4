package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

const (
	defaultTransferTimeout = 15 * time.Second
	rollbackTimeout        = 10 * time.Second
	transferPrefix         = "trf"
	supersededReason       = "superseded by a new release attempt"
)

type ServiceParams struct {
	Repo            Repository
	Payments        paymentReader
	Machine         transitioner
	Gateway         Gateway
	Notifier        notifications.Notifier
	Logger          *logger.Logger
	Metrics         *metrics.PaymentMetrics
	TransferTimeout time.Duration
	TransferSource  string
	Currency        string
	Now             func() time.Time
}

// Service releases escrowed funds to providers and settles transfer outcomes.
type Service struct {
	repo            Repository
	payments        paymentReader
	machine         transitioner
	gateway         Gateway
	notifier        notifications.Notifier
	logg            *logger.Logger
	metrics         *metrics.PaymentMetrics
	transferTimeout time.Duration
	source          string
	currency        string
	now             func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("escrow machine required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	timeout := params.TransferTimeout
	if timeout <= 0 {
		timeout = defaultTransferTimeout
	}
	return &Service{
		repo:            params.Repo,
		payments:        params.Payments,
		machine:         params.Machine,
		gateway:         params.Gateway,
		notifier:        notifier,
		logg:            params.Logger,
		metrics:         params.Metrics,
		transferTimeout: timeout,
		source:          params.TransferSource,
		currency:        params.Currency,
		now:             now,
	}, nil
}

// ReleaseResult is returned to the client that released the funds.
type ReleaseResult struct {
	Status       enums.PaymentStatus `json:"status"`
	TransferCode string              `json:"transferCode,omitempty"`
	Reference    string              `json:"reference"`
}

// Release moves the booking's escrowed funds to the provider. Any failure after the
// release marker is written puts payment and booking back where they were.
func (s *Service) Release(ctx context.Context, callerID, bookingID uuid.UUID) (*ReleaseResult, error) {
	ctx = s.logg.WithBookingID(ctx, bookingID.String())

	booking, payment, err := s.loadOwned(ctx, callerID, bookingID)
	if err != nil {
		return nil, err
	}
	if err := escrow.CheckRelease(escrow.Pair{Payment: payment.Status, Booking: booking.Status}); err != nil {
		return nil, err
	}
	provider, err := s.repo.FindProvider(ctx, booking.ProviderID)
	if err != nil {
		return nil, lookupError(err, "provider not found")
	}
	if !provider.HasBankDetails() {
		return nil, pkgerrors.New(pkgerrors.CodeRecipientInvalid, "the provider has no bank details on file, ask the provider to add bank details").
			WithDetails(pkgerrors.StateDetails{Reason: "missing_bank_details", Field: "bank_details"})
	}

	reference := paystack.GenerateReference(transferPrefix)
	ctx = s.logg.WithField(ctx, "transfer_ref", reference)

	var payout models.Payout
	begun, err := s.machine.Apply(ctx, escrow.Request{
		Transition: escrow.BeginRelease,
		PaymentID:  payment.ID,
		Also: func(tx *gorm.DB, result *escrow.Result) error {
			repo := s.repo.WithTx(tx)
			if _, err := repo.SupersedeOpenPayouts(ctx, result.Payment.ID, supersededReason); err != nil {
				return err
			}
			payout = models.Payout{
				ID:                    uuid.New(),
				PaymentID:             result.Payment.ID,
				PaystackRef:           reference,
				Amount:                result.Payment.Amount,
				Currency:              result.Payment.Currency,
				Status:                enums.PayoutStatusPending,
				PreviousPaymentStatus: result.Previous.Payment,
				PreviousBookingStatus: result.Previous.Booking,
			}
			return repo.CreatePayout(ctx, &payout)
		},
	})
	if err != nil {
		return nil, err
	}

	transfer, err := s.transfer(ctx, provider, begun.Payment, reference)
	if err != nil {
		return nil, s.rollback(ctx, begun, payout, err)
	}

	switch transfer.Status {
	case paystack.TransferSuccess:
		return s.completeAfterTransfer(ctx, reference, transfer)
	case paystack.TransferPending, paystack.TransferOTP:
		return s.markProcessing(ctx, begun, payout, transfer)
	default:
		failure := pkgerrors.New(pkgerrors.CodeTransferFailed, "transfer was not accepted by the payment provider").
			WithDetails(pkgerrors.StateDetails{Reason: "transfer_" + transfer.Status, GatewayStatus: transfer.Status})
		return nil, s.rollback(ctx, begun, payout, failure)
	}
}

func (s *Service) transfer(ctx context.Context, provider *models.Provider, payment models.Payment, reference string) (*paystack.Transfer, error) {
	recipient, err := s.resolveRecipient(ctx, provider)
	if err != nil {
		return nil, err
	}

	transferCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
	defer cancel()
	start := time.Now()
	transfer, err := s.gateway.CreateTransfer(transferCtx, paystack.TransferParams{
		Source:        s.source,
		Amount:        payment.Amount,
		RecipientCode: recipient,
		Reason:        "Payout for booking " + payment.BookingID.String(),
		Reference:     reference,
		Currency:      firstNonEmpty(payment.Currency, s.currency),
	})
	s.metrics.ObserveGateway("create_transfer", err, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(transferCtx.Err(), context.DeadlineExceeded) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "transfer timed out, funds remain in escrow")
		}
		return nil, err
	}
	return transfer, nil
}

// resolveRecipient reuses the stored live recipient code or registers the bank account.
func (s *Service) resolveRecipient(ctx context.Context, provider *models.Provider) (string, error) {
	if provider.RecipientCode != nil && *provider.RecipientCode != "" && !paystack.IsTestCode(*provider.RecipientCode) {
		return *provider.RecipientCode, nil
	}

	start := time.Now()
	code, err := s.gateway.CreateRecipient(ctx, paystack.RecipientParams{
		Name:          provider.AccountName,
		AccountNumber: provider.AccountNumber,
		BankCode:      provider.BankCode,
		Currency:      s.currency,
	})
	s.metrics.ObserveGateway("create_recipient", err, time.Since(start))
	if err != nil {
		return "", err
	}

	if err := s.repo.SetRecipientCode(ctx, provider.ID, code); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "provider_id", provider.ID.String()), "failed to cache recipient code", err)
	}
	return code, nil
}

func (s *Service) completeAfterTransfer(ctx context.Context, reference string, transfer *paystack.Transfer) (*ReleaseResult, error) {
	settled, err := s.CompleteTransfer(ctx, reference, transfer.TransferCode)
	if err != nil {
		// The money left the balance; the transfer.success webhook or the stuck-release
		// sweep finishes the bookkeeping.
		s.logg.Error(ctx, "transfer succeeded but release could not be recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release recorded partially, it will be completed automatically")
	}
	return &ReleaseResult{
		Status:       settled.Payment.Status,
		TransferCode: transfer.TransferCode,
		Reference:    reference,
	}, nil
}

func (s *Service) markProcessing(ctx context.Context, begun *escrow.Result, payout models.Payout, transfer *paystack.Transfer) (*ReleaseResult, error) {
	updates := map[string]any{"status": enums.PayoutStatusProcessing}
	if transfer.TransferCode != "" {
		updates["transfer_code"] = transfer.TransferCode
		payout.TransferCode = &transfer.TransferCode
	}
	if err := s.repo.UpdatePayout(ctx, payout.ID, updates); err != nil {
		s.logg.Error(ctx, "failed to mark payout processing", err)
	}
	payout.Status = enums.PayoutStatusProcessing

	s.notifier.Notify(ctx, notifications.Notification{
		Event:     enums.EventPaymentReleasePending,
		Payment:   begun.Payment,
		Booking:   begun.Booking,
		Payout:    &payout,
		Audiences: []payloads.Audience{payloads.AudienceClient, payloads.AudienceProvider},
	})
	return &ReleaseResult{
		Status:       begun.Payment.Status,
		TransferCode: transfer.TransferCode,
		Reference:    payout.PaystackRef,
	}, nil
}

// rollback restores the pre-release statuses on a context detached from the request and
// returns cause, joined with the rollback error when that fails too.
func (s *Service) rollback(ctx context.Context, begun *escrow.Result, payout models.Payout, cause error) error {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	reason := cause.Error()
	_, err := s.machine.Apply(rollbackCtx, escrow.Request{
		Transition:     escrow.RollbackRelease,
		PaymentID:      begun.Payment.ID,
		RestoreBooking: begun.Previous.Booking,
		Also: func(tx *gorm.DB, result *escrow.Result) error {
			if !result.Applied {
				return nil
			}
			return s.repo.WithTx(tx).UpdatePayout(rollbackCtx, payout.ID, map[string]any{
				"status":         enums.PayoutStatusFailed,
				"failure_reason": truncate(reason, 500),
			})
		},
	})
	if err != nil {
		s.logg.Error(rollbackCtx, "release rollback failed, payment left in processing", err)
		return multierr.Append(cause, err)
	}
	s.logg.Warn(s.logg.WithField(rollbackCtx, "error", reason), "release rolled back")
	return cause
}

// CashResult is returned after a client reports a cash payment.
type CashResult struct {
	Status        enums.PaymentStatus `json:"status"`
	BookingStatus enums.BookingStatus `json:"bookingStatus"`
	Updated       bool                `json:"updated"`
}

// CashRelease records the client's claim that cash changed hands. The booking stays
// where it is until the provider confirms receipt.
func (s *Service) CashRelease(ctx context.Context, callerID, bookingID uuid.UUID) (*CashResult, error) {
	ctx = s.logg.WithBookingID(ctx, bookingID.String())
	_, payment, err := s.loadOwned(ctx, callerID, bookingID)
	if err != nil {
		return nil, err
	}

	result, err := s.machine.Apply(ctx, escrow.Request{Transition: escrow.ReportCash, PaymentID: payment.ID})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.notifier.Notify(ctx, notifications.Notification{
			Event:     enums.EventCashPaymentReported,
			Payment:   result.Payment,
			Booking:   result.Booking,
			Audiences: []payloads.Audience{payloads.AudienceProvider},
			Actor:     &outbox.ActorRef{UserID: callerID, Role: enums.UserRoleClient.String()},
			Message:   "client reported a cash payment, confirm receipt to complete the booking",
		})
	}
	return &CashResult{
		Status:        result.Payment.Status,
		BookingStatus: result.Booking.Status,
		Updated:       result.Applied,
	}, nil
}

// Refund returns escrowed funds to the client on the ledger and cancels the booking.
func (s *Service) Refund(ctx context.Context, actorID, paymentID uuid.UUID) (*escrow.Result, error) {
	result, err := s.machine.Apply(ctx, escrow.Request{Transition: escrow.Refund, PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.notifier.Notify(ctx, notifications.Notification{
			Event:     enums.EventPaymentRefunded,
			Payment:   result.Payment,
			Booking:   result.Booking,
			Audiences: []payloads.Audience{payloads.AudienceClient, payloads.AudienceProvider},
			Actor:     &outbox.ActorRef{UserID: actorID, Role: enums.UserRoleAdmin.String()},
		})
	}
	return result, nil
}

func (s *Service) loadOwned(ctx context.Context, callerID, bookingID uuid.UUID) (*models.Booking, *models.Payment, error) {
	if bookingID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "bookingId required")
	}
	booking, err := s.payments.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, lookupError(err, "booking not found")
	}
	if booking.ClientID != callerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the booking client can release this payment")
	}
	payment, err := s.payments.FindPaymentByBookingID(ctx, bookingID)
	if err != nil {
		return nil, nil, lookupError(err, "payment not found")
	}
	return booking, payment, nil
}

func lookupError(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
