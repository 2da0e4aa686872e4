package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/internal/reconcile"
	"github.com/angelmondragon/servicehub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

const testSecret = "sk_test_webhook"

type secretVerifier struct{}

func (secretVerifier) VerifySignature(body []byte, signature string) bool {
	return signature == paystack.Sign(testSecret, body)
}

type fakeVerifyGateway struct {
	verification *paystack.Verification
	err          error
	calls        int
}

func (f *fakeVerifyGateway) VerifyPayment(context.Context, string) (*paystack.Verification, error) {
	f.calls++
	return f.verification, f.err
}

func (f *fakeVerifyGateway) VerifyPaymentRaw(context.Context, string) (*paystack.RawVerification, error) {
	return nil, errors.New("raw verification not expected")
}

type fakeTransferGateway struct{}

func (fakeTransferGateway) CreateRecipient(context.Context, paystack.RecipientParams) (string, error) {
	return "RCP_test", nil
}

func (fakeTransferGateway) CreateTransfer(_ context.Context, params paystack.TransferParams) (*paystack.Transfer, error) {
	return &paystack.Transfer{Status: paystack.TransferPending, TransferCode: "TRF_pending", Reference: params.Reference}, nil
}

func (fakeTransferGateway) VerifyTransfer(context.Context, string) (*paystack.Transfer, error) {
	return nil, errors.New("not used")
}

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) WebhookGuardKey(eventType, reference string) string {
	return "sh:webhook:" + eventType + ":" + reference
}

type recordingNotifier struct {
	sent []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) {
	r.sent = append(r.sent, n)
}

type harness struct {
	svc      *Service
	conn     *gorm.DB
	seed     dbtest.Escrow
	gateway  *fakeVerifyGateway
	store    *memoryStore
	notifier *recordingNotifier
}

func newHarness(t *testing.T, payment enums.PaymentStatus, booking enums.BookingStatus) harness {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	seed := dbtest.SeedEscrow(t, conn, payment, booking)
	logg := logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard})

	escrowRepo := escrow.NewRepository(conn)
	machine, err := escrow.NewMachine(escrow.MachineParams{DB: client, Repo: escrowRepo, Logger: logg})
	require.NoError(t, err)

	repo := NewRepository(conn)
	notifier := &recordingNotifier{}
	gateway := &fakeVerifyGateway{verification: &paystack.Verification{
		Status:        paystack.TransactionSuccess,
		TransactionID: "4099260516",
		Amount:        seed.Payment.Amount,
	}}
	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Repo:     escrowRepo,
		Machine:  machine,
		Gateway:  gateway,
		Evidence: repo,
		Notifier: notifier,
		Logger:   logg,
	})
	require.NoError(t, err)
	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:     payouts.NewRepository(conn),
		Payments: escrowRepo,
		Machine:  machine,
		Gateway:  fakeTransferGateway{},
		Notifier: notifier,
		Logger:   logg,
	})
	require.NoError(t, err)

	store := newMemoryStore()
	guard, err := NewInFlightGuard(store, time.Minute)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Payments:   escrowRepo,
		Verifier:   secretVerifier{},
		Reconciler: engine,
		Payouts:    payoutSvc,
		Machine:    machine,
		Guard:      guard,
		Notifier:   notifier,
		Logger:     logg,
	})
	require.NoError(t, err)
	return harness{svc: svc, conn: conn, seed: seed, gateway: gateway, store: store, notifier: notifier}
}

func (h harness) deliver(t *testing.T, event, reference string, extra string) (*Outcome, error) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event":%q,"data":{"id":4099260516,"reference":%q,"status":"success"%s}}`, event, reference, extra))
	return h.svc.Handle(context.Background(), body, paystack.Sign(testSecret, body))
}

func (h harness) deliverBody(body string) (*Outcome, error) {
	raw := []byte(body)
	return h.svc.Handle(context.Background(), raw, paystack.Sign(testSecret, raw))
}

func (h harness) events(t *testing.T) []models.WebhookEvent {
	t.Helper()
	var rows []models.WebhookEvent
	require.NoError(t, h.conn.Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (h harness) seedPayout(t *testing.T, status enums.PayoutStatus) string {
	t.Helper()
	reference := paystack.GenerateReference("trf")
	require.NoError(t, h.conn.Create(&models.Payout{
		ID:                    uuid.New(),
		PaymentID:             h.seed.Payment.ID,
		PaystackRef:           reference,
		Amount:                h.seed.Payment.Amount,
		Currency:              "NGN",
		Status:                status,
		PreviousPaymentStatus: enums.PaymentStatusEscrow,
		PreviousBookingStatus: enums.BookingStatusAwaitingConfirmation,
	}).Error)
	return reference
}

func TestChargeSuccessMovesPaymentToEscrow(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	outcome, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	assert.True(t, outcome.Received)
	assert.True(t, outcome.Processed)
	assert.False(t, outcome.Duplicate)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusPendingExecution, booking.Status)
	require.NotNil(t, payment.TransactionID)
	assert.Equal(t, "4099260516", *payment.TransactionID)

	rows := h.events(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Processed)
	assert.True(t, rows[0].SignatureVerified)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, enums.EventPaymentReceived, h.notifier.sent[0].Event)

	verified, err := NewRepository(h.conn).HasVerifiedCharge(context.Background(), h.seed.Payment.PaystackRef)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Empty(t, h.store.values, "guard must be released once the delivery is applied")
}

func TestChargeSuccessReplayIsDuplicate(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	_, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		outcome, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
		require.NoError(t, err)
		assert.True(t, outcome.Duplicate)
		assert.True(t, outcome.Processed)
	}

	assert.Equal(t, 1, h.gateway.calls)
	assert.Len(t, h.notifier.sent, 1)
	rows := h.events(t)
	require.Len(t, rows, 4)
	duplicates := 0
	for _, row := range rows {
		assert.True(t, row.Processed)
		if row.Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, 3, duplicates)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusPendingExecution, booking.Status)
}

func TestChargeSuccessOnSettledPaymentIsNoop(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusReleased, enums.BookingStatusCompleted)

	outcome, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	assert.True(t, outcome.Processed)
	assert.Equal(t, "payment already processed", outcome.Message)
	assert.Zero(t, h.gateway.calls)

	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusReleased, payment.Status)
}

func TestInvalidSignatureRejectedBeforeRecording(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)
	body := []byte(`{"event":"charge.success","data":{"reference":"` + h.seed.Payment.PaystackRef + `"}}`)

	for _, signature := range []string{"", "deadbeef", paystack.Sign("other", body)} {
		_, err := h.svc.Handle(context.Background(), body, signature)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
	}
	assert.Empty(t, h.events(t))
	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
}

func TestChargeFailed(t *testing.T) {
	t.Run("pending payment fails and booking is cancelled", func(t *testing.T) {
		h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)
		outcome, err := h.deliver(t, paystack.EventChargeFailed, h.seed.Payment.PaystackRef, `,"gateway_response":"Declined"`)
		require.NoError(t, err)
		assert.True(t, outcome.Processed)

		payment, booking := dbtest.Reload(t, h.conn, h.seed)
		assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
		assert.Equal(t, enums.BookingStatusCancelled, booking.Status)
		require.Len(t, h.notifier.sent, 1)
		assert.Equal(t, enums.EventPaymentFailed, h.notifier.sent[0].Event)
		assert.Equal(t, "Declined", h.notifier.sent[0].Message)
	})

	t.Run("escrowed payment ignores a late failure", func(t *testing.T) {
		h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusPendingExecution)
		outcome, err := h.deliver(t, paystack.EventChargeFailed, h.seed.Payment.PaystackRef, "")
		require.NoError(t, err)
		assert.Equal(t, "charge failure ignored, payment already settled", outcome.Message)

		payment, booking := dbtest.Reload(t, h.conn, h.seed)
		assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
		assert.Equal(t, enums.BookingStatusPendingExecution, booking.Status)
		assert.Empty(t, h.notifier.sent)
	})
}

func TestTransferSuccessReleasesPayment(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusProcessingRelease, enums.BookingStatusPendingExecution)
	reference := h.seedPayout(t, enums.PayoutStatusProcessing)

	outcome, err := h.deliver(t, paystack.EventTransferSuccess, reference, `,"transfer_code":"TRF1"`)
	require.NoError(t, err)
	assert.True(t, outcome.Processed)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusReleased, payment.Status)
	assert.Equal(t, enums.BookingStatusCompleted, booking.Status)

	var payout models.Payout
	require.NoError(t, h.conn.Where("paystack_ref = ?", reference).First(&payout).Error)
	assert.Equal(t, enums.PayoutStatusCompleted, payout.Status)
	require.NotNil(t, payout.TransferCode)
	assert.Equal(t, "TRF1", *payout.TransferCode)
}

func TestTransferFailedReturnsFundsToEscrow(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusProcessingRelease, enums.BookingStatusPendingExecution)
	reference := h.seedPayout(t, enums.PayoutStatusProcessing)

	outcome, err := h.deliver(t, paystack.EventTransferFailed, reference, `,"reason":"Account could not be credited"`)
	require.NoError(t, err)
	assert.True(t, outcome.Processed)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusPendingExecution, booking.Status)

	var payout models.Payout
	require.NoError(t, h.conn.Where("paystack_ref = ?", reference).First(&payout).Error)
	assert.Equal(t, enums.PayoutStatusFailed, payout.Status)
	require.NotNil(t, payout.FailureReason)
	assert.Equal(t, "Account could not be credited", *payout.FailureReason)
}

func TestUnsupportedEventIsAcknowledged(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	outcome, err := h.deliver(t, "subscription.create", h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	assert.True(t, outcome.Received)
	assert.False(t, outcome.Processed)

	rows := h.events(t)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Processed)
}

func TestUnknownReferenceIsAcknowledgedUnprocessed(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	outcome, err := h.deliver(t, paystack.EventChargeSuccess, "bk_unknown", "")
	require.NoError(t, err)
	assert.False(t, outcome.Processed)
	assert.Equal(t, "no payment for reference", outcome.Message)

	outcome, err = h.deliver(t, paystack.EventTransferSuccess, "trf_unknown", "")
	require.NoError(t, err)
	assert.False(t, outcome.Processed)
}

func TestInFlightDeliveryShortCircuits(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)
	h.store.values[h.store.WebhookGuardKey(paystack.EventChargeSuccess, h.seed.Payment.PaystackRef)] = "other-worker"

	outcome, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	assert.False(t, outcome.Processed)
	assert.True(t, outcome.Duplicate)
	assert.Zero(t, h.gateway.calls)

	rows := h.events(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Duplicate)
	assert.Equal(t, "other-worker", h.store.values[h.store.WebhookGuardKey(paystack.EventChargeSuccess, h.seed.Payment.PaystackRef)])

	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
}

func TestProcessingFailureRecordsErrorAndReleasesGuard(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "verify transaction failed")

	_, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	rows := h.events(t)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Processed)
	assert.Equal(t, 1, rows[0].RetryCount)
	require.NotNil(t, rows[0].Error)
	assert.Empty(t, h.store.values)

	h.gateway.err = nil
	outcome, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)
	assert.True(t, outcome.Processed)
	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
}

func TestRecentActivity(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)
	_, err := h.deliver(t, paystack.EventChargeSuccess, h.seed.Payment.PaystackRef, "")
	require.NoError(t, err)

	activity, err := h.svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, activity.Events, 1)
	require.Len(t, activity.Payments, 1)
	assert.Equal(t, h.seed.Payment.ID, activity.Payments[0].ID)
}

func TestInFlightGuardReleaseOnlyOwnToken(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewInFlightGuard(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	token, owned, err := guard.Acquire(ctx, "charge.success", "bk_1")
	require.NoError(t, err)
	require.True(t, owned)

	_, owned, err = guard.Acquire(ctx, "charge.success", "bk_1")
	require.NoError(t, err)
	assert.False(t, owned)

	require.NoError(t, guard.Release(ctx, "charge.success", "bk_1", "someone-else"))
	assert.Len(t, store.values, 1)
	require.NoError(t, guard.Release(ctx, "charge.success", "bk_1", token))
	assert.Empty(t, store.values)

	_, err = NewInFlightGuard(nil, time.Minute)
	assert.Error(t, err)
}

func TestUnsupportedEventWithoutReferenceIsAcknowledged(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	outcome, err := h.deliverBody(`{"event":"customeridentification.success","data":{"customer_code":"CUS_X"}}`)
	require.NoError(t, err)
	assert.True(t, outcome.Received)
	assert.False(t, outcome.Processed)
	assert.Equal(t, "event type not handled", outcome.Message)

	rows := h.events(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "customeridentification.success", rows[0].EventType)
	assert.Empty(t, rows[0].PaystackRef)
	assert.True(t, rows[0].SignatureVerified)
	assert.False(t, rows[0].Processed)
	assert.Zero(t, rows[0].RetryCount)
}

func TestMalformedSignedBodyIsRecordedThenRejected(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		eventType string
	}{
		{name: "not json", body: `not json`, eventType: unparsedEvent},
		{name: "no event name", body: `{"data":{"reference":"bk_1"}}`, eventType: unparsedEvent},
		{name: "handled event without reference", body: `{"event":"charge.success","data":{}}`, eventType: paystack.EventChargeSuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

			_, err := h.deliverBody(tc.body)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

			rows := h.events(t)
			require.Len(t, rows, 1)
			assert.Equal(t, tc.eventType, rows[0].EventType)
			assert.False(t, rows[0].Processed)
			require.NotNil(t, rows[0].Error)
			assert.Zero(t, rows[0].RetryCount)
			assert.Zero(t, h.gateway.calls)
		})
	}
}

func TestSkippedDeliveryIsAnnotatedWithoutRetry(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPending, enums.BookingStatusConfirmed)

	outcome, err := h.deliver(t, paystack.EventChargeSuccess, "bk_unknown", "")
	require.NoError(t, err)
	assert.False(t, outcome.Processed)

	rows := h.events(t)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Error)
	assert.Equal(t, "no payment for reference", *rows[0].Error)
	assert.Zero(t, rows[0].RetryCount)
	assert.False(t, rows[0].Processed)
	assert.Empty(t, h.store.values)
}
