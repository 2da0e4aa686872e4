package payouts

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

// Settlement is the outcome of recording a transfer result.
type Settlement struct {
	Applied bool
	Note    string
	Payment models.Payment
	Booking models.Booking
	Payout  models.Payout
}

// CompleteTransfer records a successful transfer: the payment is released, the booking
// completed and the payout closed. Replays leave a completed payout unchanged.
func (s *Service) CompleteTransfer(ctx context.Context, reference, transferCode string) (*Settlement, error) {
	ctx = s.logg.WithField(ctx, "transfer_ref", reference)
	payout, err := s.repo.FindPayoutByReference(ctx, reference)
	if err != nil {
		return nil, lookupError(err, "payout not found")
	}

	var settled models.Payout
	result, err := s.machine.Apply(ctx, escrow.Request{
		Transition: escrow.CompleteRelease,
		PaymentID:  payout.PaymentID,
		Also: func(tx *gorm.DB, _ *escrow.Result) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.LockPayoutByReference(ctx, reference)
			if err != nil {
				return err
			}
			if locked.Status != enums.PayoutStatusCompleted {
				updates := map[string]any{"status": enums.PayoutStatusCompleted, "failure_reason": nil}
				locked.Status = enums.PayoutStatusCompleted
				locked.FailureReason = nil
				if transferCode != "" {
					updates["transfer_code"] = transferCode
					locked.TransferCode = &transferCode
				}
				if err := repo.UpdatePayout(ctx, locked.ID, updates); err != nil {
					return err
				}
			}
			settled = *locked
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		s.logg.Info(ctx, "payment released to provider")
		s.notifier.Notify(ctx, notifications.Notification{
			Event:     enums.EventPaymentReleased,
			Payment:   result.Payment,
			Booking:   result.Booking,
			Payout:    &settled,
			Audiences: []payloads.Audience{payloads.AudienceClient, payloads.AudienceProvider},
		})
	}
	return &Settlement{
		Applied: result.Applied,
		Note:    result.Note,
		Payment: result.Payment,
		Booking: result.Booking,
		Payout:  settled,
	}, nil
}

// FailTransfer records a failed or reversed transfer. Funds go back to escrow and the
// booking waits for a new release. Payouts already closed are left alone.
func (s *Service) FailTransfer(ctx context.Context, reference, reason string) (*Settlement, error) {
	ctx = s.logg.WithField(ctx, "transfer_ref", reference)
	payout, err := s.repo.FindPayoutByReference(ctx, reference)
	if err != nil {
		return nil, lookupError(err, "payout not found")
	}
	if payout.Status == enums.PayoutStatusCompleted || payout.Status == enums.PayoutStatusFailed {
		return &Settlement{Note: "payout already " + string(payout.Status), Payout: *payout}, nil
	}
	if reason == "" {
		reason = "transfer failed"
	}

	var settled models.Payout
	result, err := s.machine.Apply(ctx, escrow.Request{
		Transition: escrow.FailTransfer,
		PaymentID:  payout.PaymentID,
		Also: func(tx *gorm.DB, _ *escrow.Result) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.LockPayoutByReference(ctx, reference)
			if err != nil {
				return err
			}
			if locked.Status == enums.PayoutStatusPending || locked.Status == enums.PayoutStatusProcessing {
				trimmed := truncate(reason, 500)
				if err := repo.UpdatePayout(ctx, locked.ID, map[string]any{
					"status":         enums.PayoutStatusFailed,
					"failure_reason": trimmed,
				}); err != nil {
					return err
				}
				locked.Status = enums.PayoutStatusFailed
				locked.FailureReason = &trimmed
			}
			settled = *locked
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "transfer failed, funds returned to escrow")
		s.notifier.Notify(ctx, notifications.Notification{
			Event:     enums.EventPayoutFailed,
			Payment:   result.Payment,
			Booking:   result.Booking,
			Payout:    &settled,
			Audiences: []payloads.Audience{payloads.AudienceClient, payloads.AudienceProvider},
			Message:   "the transfer to the provider failed, the funds are held in escrow until the release is retried",
		})
	}
	return &Settlement{
		Applied: result.Applied,
		Note:    result.Note,
		Payment: result.Payment,
		Booking: result.Booking,
		Payout:  settled,
	}, nil
}

// StuckReport summarizes one sweep over open payouts.
type StuckReport struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}

// CheckStuckTransfers asks the gateway about payouts left open longer than olderThan
// and settles the ones that reached a final state.
func (s *Service) CheckStuckTransfers(ctx context.Context, olderThan time.Duration, limit int) (StuckReport, error) {
	var report StuckReport
	open, err := s.repo.ListOpenPayouts(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return report, err
	}

	for _, payout := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		itemCtx := s.logg.WithField(ctx, "transfer_ref", payout.PaystackRef)

		start := time.Now()
		transfer, err := s.gateway.VerifyTransfer(itemCtx, payout.PaystackRef)
		s.metrics.ObserveGateway("verify_transfer", err, time.Since(start))
		if err != nil {
			report.Errors++
			s.logg.Error(itemCtx, "verify stuck transfer failed", err)
			continue
		}

		switch transfer.Status {
		case paystack.TransferSuccess:
			_, err = s.CompleteTransfer(itemCtx, payout.PaystackRef, firstNonEmpty(transfer.TransferCode, deref(payout.TransferCode)))
			if err == nil {
				report.Completed++
			}
		case paystack.TransferFailed, paystack.TransferReversed:
			_, err = s.FailTransfer(itemCtx, payout.PaystackRef, firstNonEmpty(transfer.FailureReason, "transfer "+transfer.Status))
			if err == nil {
				report.Failed++
			}
		default:
			report.Pending++
		}
		if err != nil {
			report.Errors++
			s.logg.Error(itemCtx, "settle stuck transfer failed", err)
		}
	}
	return report, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
