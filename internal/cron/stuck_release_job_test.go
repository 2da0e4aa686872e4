package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

type fakeStuckChecker struct {
	report    payouts.StuckReport
	err       error
	olderThan time.Duration
	limit     int
}

func (f *fakeStuckChecker) CheckStuckTransfers(_ context.Context, olderThan time.Duration, limit int) (payouts.StuckReport, error) {
	f.olderThan, f.limit = olderThan, limit
	return f.report, f.err
}

func newStuckJob(t *testing.T, checker *fakeStuckChecker, age time.Duration) Job {
	t.Helper()
	job, err := NewStuckReleaseJob(StuckReleaseJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Payouts: checker,
		Age:     age,
	})
	if err != nil {
		t.Fatalf("NewStuckReleaseJob: %v", err)
	}
	return job
}

func TestStuckReleaseJobUsesConfiguredAge(t *testing.T) {
	checker := &fakeStuckChecker{report: payouts.StuckReport{Checked: 2, Completed: 1, Pending: 1}}
	job := newStuckJob(t, checker, 2*time.Hour)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if checker.olderThan != 2*time.Hour || checker.limit != stuckReleaseBatch {
		t.Fatalf("unexpected args %s %d", checker.olderThan, checker.limit)
	}
	if job.Name() != "stuck-release-check" {
		t.Fatalf("unexpected name %q", job.Name())
	}
}

func TestStuckReleaseJobFailsOnUnsettledTransfers(t *testing.T) {
	job := newStuckJob(t, &fakeStuckChecker{report: payouts.StuckReport{Checked: 3, Errors: 1}}, 0)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error when a transfer could not be settled")
	}

	job = newStuckJob(t, &fakeStuckChecker{err: errors.New("db down")}, 0)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}
