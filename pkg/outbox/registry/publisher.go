package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its data decodes.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is an outbox row whose envelope and data both decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry is the routing table the relay consults for every row.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish no matter how often it is retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err so the relay dead-letters instead of retrying.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// payloadFactories decodes event data by the aggregate it was written against.
var payloadFactories = map[enums.OutboxAggregateType]func() interface{}{
	enums.AggregatePayment: func() interface{} { return &payloads.PaymentEvent{} },
	enums.AggregatePayout:  func() interface{} { return &payloads.PayoutEvent{} },
}

// NewEventRegistry routes every known event type to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.NotificationTopic)
	if topic == "" {
		return nil, errors.New("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, eventType := range enums.OutboxEventTypes() {
		aggregate := eventType.Aggregate()
		factory, ok := payloadFactories[aggregate]
		if !ok {
			return nil, fmt.Errorf("no payload type for %s events", aggregate)
		}
		reg.entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  aggregate,
			Topic:          topic,
			PayloadFactory: factory,
		}
	}
	return reg, nil
}

// Descriptor returns the registered descriptor for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its route and decodes the typed payload.
// Every failure is non-retryable: the row itself is wrong.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.route(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if err := checkRecipients(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) route(event models.OutboxEvent) (EventDescriptor, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return desc, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return desc, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return desc, errors.New("missing aggregate_id")
	}
	return desc, nil
}

// checkRecipients rejects payloads addressed to a zero user id; the inbox
// would otherwise store rows nobody can read.
func checkRecipients(payload interface{}) error {
	var recipients []payloads.Recipient
	switch p := payload.(type) {
	case *payloads.PaymentEvent:
		recipients = p.Recipients
	case *payloads.PayoutEvent:
		recipients = p.Recipients
	}
	for i, rc := range recipients {
		if rc.UserID == uuid.Nil {
			return fmt.Errorf("recipient %d has no user id", i)
		}
	}
	return nil
}
