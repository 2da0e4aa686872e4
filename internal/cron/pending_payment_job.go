package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/servicehub-backend/internal/reconcile"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

const (
	defaultPendingGrace = 15 * time.Minute
	defaultPendingBatch = 100
)

type pendingPaymentLister interface {
	ListPendingPayments(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]models.Payment, error)
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, payment *models.Payment, trust reconcile.Trust) (*reconcile.Snapshot, error)
}

// PendingPaymentJobParams configure the sweep of unconfirmed charges.
type PendingPaymentJobParams struct {
	Logger     *logger.Logger
	Payments   pendingPaymentLister
	Reconciler paymentReconciler
	Grace      time.Duration
	MaxAge     time.Duration
	BatchSize  int
}

// NewPendingPaymentJob builds the job that re-verifies PENDING payments whose webhook
// never arrived.
func NewPendingPaymentJob(params PendingPaymentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPendingBatch
	}
	return &pendingPaymentJob{
		logg:       params.Logger,
		payments:   params.Payments,
		reconciler: params.Reconciler,
		grace:      grace,
		maxAge:     params.MaxAge,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type pendingPaymentJob struct {
	logg       *logger.Logger
	payments   pendingPaymentLister
	reconciler paymentReconciler
	grace      time.Duration
	maxAge     time.Duration
	batch      int
	now        func() time.Time
}

func (j *pendingPaymentJob) Name() string { return "pending-payment-reconcile" }

func (j *pendingPaymentJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var newerThan time.Time
	if j.maxAge > 0 {
		newerThan = now.Add(-j.maxAge)
	}
	payments, err := j.payments.ListPendingPayments(ctx, now.Add(-j.grace), newerThan, j.batch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	var errs error
	confirmed, unresolved := 0, 0
	for i := range payments {
		payment := payments[i]
		itemCtx := j.logg.WithPaymentRef(ctx, payment.PaystackRef)
		snap, err := j.reconciler.Reconcile(itemCtx, &payment, reconcile.TrustCorroborated)
		switch {
		case err == nil && snap.Updated:
			confirmed++
		case err == nil:
		case expectedOutcome(err):
			unresolved++
			j.logg.Debug(j.logg.WithField(itemCtx, "code", string(pkgerrors.CodeOf(err))), "pending payment not confirmable yet")
		default:
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", payment.PaystackRef, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned":    len(payments),
		"confirmed":  confirmed,
		"unresolved": unresolved,
		"failed":     len(multierr.Errors(errs)),
	}), "pending payment sweep complete")
	return errs
}

// expectedOutcome covers gateway answers that leave the payment PENDING by design.
func expectedOutcome(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeVerificationFailed, pkgerrors.CodePaymentAbandoned, pkgerrors.CodeNotFound:
		return true
	}
	return false
}
