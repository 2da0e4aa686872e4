package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
)

// Request describes one transition attempt against a payment.
type Request struct {
	Transition Transition
	PaymentID  uuid.UUID

	// TransactionID and PaidAt are recorded by ConfirmCharge.
	TransactionID string
	PaidAt        *time.Time

	// RestoreBooking is the pre-release booking status RollbackRelease puts back.
	RestoreBooking enums.BookingStatus

	// Guard runs under the row locks before anything is written. Returning an error
	// aborts the transition.
	Guard func(payment *models.Payment, booking *models.Booking) error

	// Also runs inside the same transaction after the status writes, for applied and
	// no-op outcomes alike. Returning an error rolls everything back.
	Also func(tx *gorm.DB, result *Result) error
}

// Result is the outcome of Apply. Payment and Booking hold the post-transition rows.
type Result struct {
	Transition Transition
	Previous   Pair
	Current    Pair
	Applied    bool
	Note       string
	Payment    models.Payment
	Booking    models.Booking
}

// MachineParams configure the escrow state machine.
type MachineParams struct {
	DB      txRunner
	Repo    Repository
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
	Now     func() time.Time
}

// Machine is the single entry point that mutates payment and booking status.
type Machine struct {
	db      txRunner
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// NewMachine builds the state machine.
func NewMachine(params MachineParams) (*Machine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		db:      params.DB,
		repo:    params.Repo,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// Apply locks the payment then its booking, evaluates the transition under the locks and
// writes both rows in one transaction. Serialization failures re-run the whole
// transaction. A payment already past the transition yields Applied=false.
func (m *Machine) Apply(ctx context.Context, req Request) (*Result, error) {
	if req.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	var result *Result
	err := m.db.WithRetryableTx(ctx, func(tx *gorm.DB) error {
		res, err := m.apply(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	m.record(ctx, req, result, err)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply payment transition")
	}
	return result, nil
}

func (m *Machine) apply(ctx context.Context, tx *gorm.DB, req Request) (*Result, error) {
	repo := m.repo.WithTx(tx)

	payment, err := repo.LockPayment(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	booking, err := repo.LockBooking(ctx, payment.BookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, err
	}

	current := Pair{Payment: payment.Status, Booking: booking.Status}
	result := &Result{Transition: req.Transition, Previous: current, Current: current}

	if req.Guard != nil {
		if err := req.Guard(payment, booking); err != nil {
			return nil, err
		}
	}

	next, err := plan(req.Transition, current, req.RestoreBooking)
	if err != nil {
		return nil, err
	}

	if next.noop {
		result.Note = next.note
	} else {
		updates := map[string]any{"status": next.next.Payment}
		if req.Transition == ConfirmCharge {
			paidAt := m.now().UTC()
			if req.PaidAt != nil && !req.PaidAt.IsZero() {
				paidAt = req.PaidAt.UTC()
			}
			updates["paid_at"] = paidAt
			payment.PaidAt = &paidAt
			if req.TransactionID != "" {
				txID := req.TransactionID
				updates["transaction_id"] = txID
				payment.TransactionID = &txID
			}
		}
		if err := repo.UpdatePayment(ctx, payment.ID, updates); err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}
		if next.next.Booking != booking.Status {
			if err := repo.UpdateBookingStatus(ctx, booking.ID, next.next.Booking); err != nil {
				return nil, fmt.Errorf("update booking: %w", err)
			}
		}
		payment.Status = next.next.Payment
		booking.Status = next.next.Booking
		result.Current = next.next
		result.Applied = true
	}
	result.Payment = *payment
	result.Booking = *booking

	if req.Also != nil {
		if err := req.Also(tx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *Machine) record(ctx context.Context, req Request, result *Result, err error) {
	outcome := "applied"
	switch {
	case err != nil && pkgerrors.IsCode(err, pkgerrors.CodeInvalidState):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case result != nil && !result.Applied:
		outcome = "noop"
	}
	m.metrics.IncTransition(req.Transition.String(), outcome)

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"transition": req.Transition.String(),
		"payment_id": req.PaymentID.String(),
		"outcome":    outcome,
	})
	switch outcome {
	case "applied":
		logCtx = m.logg.WithFields(logCtx, map[string]any{
			"from_payment": result.Previous.Payment,
			"from_booking": result.Previous.Booking,
			"to_payment":   result.Current.Payment,
			"to_booking":   result.Current.Booking,
		})
		m.logg.Info(logCtx, "payment transition applied")
	case "noop":
		m.logg.Info(m.logg.WithField(logCtx, "note", result.Note), "payment transition skipped")
	case "rejected":
		m.logg.Warn(logCtx, err.Error())
	default:
		m.logg.Error(logCtx, "payment transition failed", err)
	}
}
