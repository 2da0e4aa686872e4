package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GuardStore is the redis surface the in-flight guard needs.
type GuardStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	WebhookGuardKey(eventType, reference string) string
}

// InFlightGuard marks one (event, reference) delivery as being handled so concurrent
// redeliveries short-circuit instead of racing the database.
type InFlightGuard struct {
	store GuardStore
	ttl   time.Duration
}

func NewInFlightGuard(store GuardStore, ttl time.Duration) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("guard store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &InFlightGuard{store: store, ttl: ttl}, nil
}

// Acquire returns a release token when the caller now owns the delivery.
func (g *InFlightGuard) Acquire(ctx context.Context, eventType, reference string) (string, bool, error) {
	if eventType == "" || reference == "" {
		return "", false, errors.New("event type and reference are required")
	}
	token := uuid.NewString()
	set, err := g.store.SetNX(ctx, g.store.WebhookGuardKey(eventType, reference), token, g.ttl)
	if err != nil {
		return "", false, fmt.Errorf("set webhook guard: %w", err)
	}
	if !set {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the marker if it still carries token.
func (g *InFlightGuard) Release(ctx context.Context, eventType, reference, token string) error {
	if token == "" {
		return nil
	}
	_, err := g.store.DeleteIfValue(ctx, g.store.WebhookGuardKey(eventType, reference), token)
	return err
}
