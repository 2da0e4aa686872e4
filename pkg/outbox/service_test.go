package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

func emitOne(t *testing.T, conn *gorm.DB, svc *Service, aggregateID uuid.UUID) {
	t.Helper()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentReceived,
			AggregateType: enums.AggregatePayment,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{UserID: uuid.New(), Role: "client"},
			Data:          map[string]string{"reference": "bk_1"},
		})
	})
	require.NoError(t, err)
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	aggregateID := uuid.New()

	emitOne(t, conn, svc, aggregateID)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPaymentReceived, rows[0].EventType)
	assert.Equal(t, aggregateID, rows[0].AggregateID)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.NotEqual(t, uuid.Nil, envelope.ID())
	assert.JSONEq(t, `{"reference":"bk_1"}`, string(envelope.Data))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "client", envelope.Actor.Role)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		})
	})
	require.Error(t, err)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventPaymentReceived})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	first, second, third := uuid.New(), uuid.New(), uuid.New()
	emitOne(t, conn, svc, first)
	emitOne(t, conn, svc, second)
	emitOne(t, conn, svc, third)

	var batch []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, batch, 3)

	byAggregate := map[uuid.UUID]uuid.UUID{}
	for _, row := range batch {
		byAggregate[row.AggregateID] = row.ID
	}

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, byAggregate[first]); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, byAggregate[second], errors.New("publish timeout")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, byAggregate[third], errors.New("bad payload"), 3)
	}))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, batch, 1)
	assert.Equal(t, second, batch[0].AggregateID)
	assert.Equal(t, 1, batch[0].AttemptCount)
	require.NotNil(t, batch[0].LastError)
	assert.Equal(t, "publish timeout", *batch[0].LastError)

	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(context.Background(), tx, time.Now().Add(time.Hour), 3)
		return err
	}))
	assert.EqualValues(t, 2, deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}

func TestDLQBuryAndFind(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	failedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayoutFailed,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		AttemptCount:  4,
	}
	cause := errors.New(strings.Repeat("x", maxLastErrorLen+10))

	require.NoError(t, dlq.BuryTx(conn, event, enums.OutboxDLQReasonNonRetryable, cause, failedAt))
	require.Error(t, dlq.BuryTx(conn, event, enums.OutboxDLQErrorReason("bogus"), cause, failedAt))

	found, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, found.ErrorReason)
	assert.Equal(t, 4, found.AttemptCount)
	assert.True(t, found.FailedAt.Equal(failedAt))
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEmitRejectsWrongAggregate(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		})
	})
	require.ErrorContains(t, err, "payout_failed must be written against payout")
}
