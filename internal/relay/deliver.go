package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/registry"
)

type outcome string

const (
	outcomePublished outcome = "published"
	outcomeRetry     outcome = "retry"
	outcomeDead      outcome = "dlq"
)

type orderingKeyer interface {
	OrderingKey() string
}

func permanent(err error) error {
	return registry.NewNonRetryableError(err)
}

// deliver publishes one row and records the outcome on it inside tx.
func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return outcomeDead, r.bury(logCtx, tx, event, enums.OutboxDLQReasonUnroutable, err)
	}
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	msg := message(event, resolved)
	if msg.OrderingKey != "" {
		logCtx = r.logg.WithField(logCtx, "ordering_key", msg.OrderingKey)
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	sendErr := r.sender.Send(publishCtx, resolved.Descriptor.Topic, msg)
	cancel()

	switch {
	case sendErr == nil:
		if err := r.queue.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(logCtx, "notification published")
		return outcomePublished, nil

	case isPermanent(sendErr):
		return outcomeDead, r.bury(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, sendErr)

	case event.AttemptCount+1 >= r.maxAttempts:
		return outcomeDead, r.bury(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, sendErr))

	default:
		r.logg.Warn(r.logg.WithField(logCtx, "error", sendErr.Error()), "notification publish failed, will retry")
		if err := r.queue.MarkFailedTx(tx, event.ID, sendErr); err != nil {
			return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		return outcomeRetry, nil
	}
}

// bury copies the row into the DLQ and parks it at the attempt ceiling.
func (r *Relay) bury(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "notification moved to dead letter queue")

	if err := r.dlq.BuryTx(tx, event, reason, cause, r.now()); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.queue.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if keyer, ok := resolved.Payload.(orderingKeyer); ok {
		if key := keyer.OrderingKey(); key != "" {
			msg.OrderingKey = key
			msg.Attributes["booking_id"] = key
		}
	}
	return msg
}

func isPermanent(err error) bool {
	var nonRetry registry.NonRetryableError
	return errors.As(err, &nonRetry)
}
