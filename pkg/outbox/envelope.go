package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new envelope.
const EnvelopeVersion = 1

var ErrInvalidEnvelope = errors.New("invalid outbox envelope")

// ActorRef identifies who triggered the event. System-driven events (webhooks, cron) omit it.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(occurredAt time.Time, version int, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	if version <= 0 {
		version = EnvelopeVersion
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses raw and rejects envelopes a consumer cannot act on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: event id %q", ErrInvalidEnvelope, env.EventID)
	}
	if env.Version <= 0 {
		return PayloadEnvelope{}, fmt.Errorf("%w: version %d", ErrInvalidEnvelope, env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, fmt.Errorf("%w: empty data", ErrInvalidEnvelope)
	}
	return env, nil
}

// ID returns the event id. Only valid on envelopes from DecodeEnvelope.
func (e PayloadEnvelope) ID() uuid.UUID {
	id, _ := uuid.Parse(e.EventID)
	return id
}
