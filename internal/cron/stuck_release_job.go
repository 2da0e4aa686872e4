package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

const (
	defaultStuckReleaseAge = time.Hour
	stuckReleaseBatch      = 50
)

type stuckTransferChecker interface {
	CheckStuckTransfers(ctx context.Context, olderThan time.Duration, limit int) (payouts.StuckReport, error)
}

type StuckReleaseJobParams struct {
	Logger  *logger.Logger
	Payouts stuckTransferChecker
	Age     time.Duration
}

// NewStuckReleaseJob builds the job that settles transfers whose webhook never arrived.
func NewStuckReleaseJob(params StuckReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	age := params.Age
	if age <= 0 {
		age = defaultStuckReleaseAge
	}
	return &stuckReleaseJob{logg: params.Logger, payouts: params.Payouts, age: age}, nil
}

type stuckReleaseJob struct {
	logg    *logger.Logger
	payouts stuckTransferChecker
	age     time.Duration
}

func (j *stuckReleaseJob) Name() string { return "stuck-release-check" }

func (j *stuckReleaseJob) Run(ctx context.Context) error {
	report, err := j.payouts.CheckStuckTransfers(ctx, j.age, stuckReleaseBatch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":   report.Checked,
		"completed": report.Completed,
		"failed":    report.Failed,
		"pending":   report.Pending,
		"errors":    report.Errors,
	})
	if err != nil {
		return fmt.Errorf("check stuck transfers: %w", err)
	}
	j.logg.Info(logCtx, "stuck release check complete")
	if report.Errors > 0 {
		return fmt.Errorf("%d of %d stuck transfers could not be settled", report.Errors, report.Checked)
	}
	return nil
}
