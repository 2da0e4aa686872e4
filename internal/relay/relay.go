// Package relay moves committed outbox rows onto the notification topic.
package relay

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
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	backoffJitter         = 250 * time.Millisecond
)

type store interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type queue interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	BuryTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type Params struct {
	Logger   *logger.Logger
	DB       store
	Queue    queue
	DLQ      deadLetters
	Registry resolver
	Sender   Sender
	// Broker is pinged before the loop starts; optional.
	Broker         interface{ Ping(context.Context) error }
	Metrics        *metrics.OutboxMetrics
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Relay drains the outbox in batches, one transaction per batch.
type Relay struct {
	logg           *logger.Logger
	db             store
	queue          queue
	dlq            deadLetters
	registry       resolver
	sender         Sender
	broker         interface{ Ping(context.Context) error }
	metrics        *metrics.OutboxMetrics
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

func New(params Params) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Queue == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Sender == nil:
		return nil, errors.New("sender is required")
	}

	r := &Relay{
		logg:           params.Logger,
		db:             params.DB,
		queue:          params.Queue,
		dlq:            params.DLQ,
		registry:       params.Registry,
		sender:         params.Sender,
		broker:         params.Broker,
		metrics:        params.Metrics,
		batchSize:      params.BatchSize,
		maxAttempts:    params.MaxAttempts,
		pollInterval:   params.PollInterval,
		publishTimeout: params.PublishTimeout,
		now:            params.Now,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = defaultPublishTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Run polls until ctx is canceled. A full batch loops immediately, an empty one waits a
// poll interval, a failed one backs off with jitter.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if r.broker != nil {
		if err := r.broker.Ping(ctx); err != nil {
			return fmt.Errorf("pubsub ping failed: %w", err)
		}
	}

	backoff := r.backoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		report, err := r.drain(ctx)
		if err != nil {
			r.logg.Error(ctx, "outbox batch failed", err)
			delay, _ := backoff.Next()
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		backoff = r.backoff()

		if report.total() > 0 {
			r.logg.Debug(r.logg.WithFields(ctx, report.fields()), "outbox batch drained")
		}
		if report.total() >= r.batchSize {
			continue
		}
		if err := sleep(ctx, r.pollInterval); err != nil {
			return err
		}
	}
}

func (r *Relay) backoff() retry.Backoff {
	return retry.WithJitter(backoffJitter, retry.WithCappedDuration(maxIdleBackoff, retry.NewExponential(r.pollInterval)))
}

// batchReport counts row outcomes of one drain.
type batchReport map[outcome]int

func (b batchReport) total() int {
	n := 0
	for _, count := range b {
		n += count
	}
	return n
}

func (b batchReport) fields() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[string(k)] = v
	}
	return out
}

// drain handles one locked batch. Only database errors abort the batch; publish errors
// are recorded on the row.
func (r *Relay) drain(ctx context.Context) (batchReport, error) {
	report := batchReport{}
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.queue.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range events {
			result, err := r.deliver(ctx, tx, event)
			if err != nil {
				return err
			}
			report[result]++
			r.metrics.Inc(string(event.EventType), string(result))
		}
		return nil
	})
	return report, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
