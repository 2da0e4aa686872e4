package payouts

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

type fakeGateway struct {
	recipientCode  string
	recipientErr   error
	recipientCalls int
	transfer       *paystack.Transfer
	transferErr    error
	blockTransfer  bool
	onTransfer     func()
	transfers      []paystack.TransferParams
	verified       map[string]*paystack.Transfer
}

func (f *fakeGateway) CreateRecipient(_ context.Context, params paystack.RecipientParams) (string, error) {
	f.recipientCalls++
	if f.recipientErr != nil {
		return "", f.recipientErr
	}
	return f.recipientCode, nil
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, params paystack.TransferParams) (*paystack.Transfer, error) {
	f.transfers = append(f.transfers, params)
	if f.onTransfer != nil {
		f.onTransfer()
	}
	if f.blockTransfer {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	out := *f.transfer
	out.Reference = params.Reference
	return &out, nil
}

func (f *fakeGateway) VerifyTransfer(_ context.Context, reference string) (*paystack.Transfer, error) {
	transfer, ok := f.verified[reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "verify transfer failed")
	}
	return transfer, nil
}

type recordingNotifier struct {
	sent []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) {
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) events() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Event)
	}
	return out
}

type harness struct {
	svc      *Service
	conn     *gorm.DB
	gateway  *fakeGateway
	notifier *recordingNotifier
	seed     dbtest.Escrow
}

func newHarness(t *testing.T, payment enums.PaymentStatus, booking enums.BookingStatus, gateway *fakeGateway) harness {
	t.Helper()
	client := dbtest.Client(t)
	seed := dbtest.SeedEscrow(t, client.DB(), payment, booking)
	logg := logger.New(logger.Options{ServiceName: "payouts-test", Output: io.Discard})
	escrowRepo := escrow.NewRepository(client.DB())
	machine, err := escrow.NewMachine(escrow.MachineParams{DB: client, Repo: escrowRepo, Logger: logg})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		Repo:           NewRepository(client.DB()),
		Payments:       escrowRepo,
		Machine:        machine,
		Gateway:        gateway,
		Notifier:       notifier,
		Logger:         logg,
		TransferSource: "balance",
		Currency:       "NGN",
	})
	require.NoError(t, err)
	return harness{svc: svc, conn: client.DB(), gateway: gateway, notifier: notifier, seed: seed}
}

func (h harness) payouts(t *testing.T) []models.Payout {
	t.Helper()
	var rows []models.Payout
	require.NoError(t, h.conn.Where("payment_id = ?", h.seed.Payment.ID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func reasonOf(err error) string {
	details, _ := pkgerrors.StateDetailsOf(err)
	return details.Reason
}

func successGateway() *fakeGateway {
	return &fakeGateway{
		recipientCode: "RCP_live01",
		transfer:      &paystack.Transfer{Status: paystack.TransferSuccess, TransferCode: "TRF1"},
	}
}

func TestReleaseSuccessReleasesPayment(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())

	result, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusReleased, result.Status)
	assert.Equal(t, "TRF1", result.TransferCode)
	assert.Contains(t, result.Reference, "trf_")

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusReleased, payment.Status)
	assert.Equal(t, enums.BookingStatusCompleted, booking.Status)

	rows := h.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusCompleted, rows[0].Status)
	require.NotNil(t, rows[0].TransferCode)
	assert.Equal(t, "TRF1", *rows[0].TransferCode)
	assert.Equal(t, enums.PaymentStatusEscrow, rows[0].PreviousPaymentStatus)
	assert.Equal(t, enums.BookingStatusAwaitingConfirmation, rows[0].PreviousBookingStatus)

	require.Len(t, h.gateway.transfers, 1)
	assert.True(t, h.gateway.transfers[0].Amount.Equal(h.seed.Payment.Amount))
	assert.Equal(t, "RCP_live01", h.gateway.transfers[0].RecipientCode)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentReleased}, h.notifier.events())

	var provider models.Provider
	require.NoError(t, h.conn.Where("id = ?", h.seed.Provider.ID).First(&provider).Error)
	require.NotNil(t, provider.RecipientCode)
	assert.Equal(t, "RCP_live01", *provider.RecipientCode)
}

func TestReleaseNetworkErrorRollsBack(t *testing.T) {
	gateway := successGateway()
	gateway.transferErr = pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("connection reset"), "create transfer failed")
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, gateway)

	_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusAwaitingConfirmation, booking.Status)

	rows := h.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].FailureReason)
	assert.Contains(t, *rows[0].FailureReason, "connection reset")
	assert.Empty(t, h.notifier.sent)
}

func TestReleaseInsufficientFundsRollsBack(t *testing.T) {
	gateway := successGateway()
	gateway.transferErr = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance for transfer")
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusCompleted, gateway)

	_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusCompleted, booking.Status)
}

func TestReleaseTransferTimeoutRollsBack(t *testing.T) {
	gateway := successGateway()
	gateway.blockTransfer = true
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusCompleted, gateway)
	h.svc.transferTimeout = 50 * time.Millisecond

	_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusCompleted, booking.Status)

	rows := h.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusFailed, rows[0].Status)
	assert.Equal(t, enums.BookingStatusCompleted, rows[0].PreviousBookingStatus)
	assert.Empty(t, h.notifier.sent)
}

func TestReleaseRollbackSurvivesCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway := successGateway()
	gateway.transferErr = pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("connection reset"), "create transfer failed")
	gateway.onTransfer = cancel
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, gateway)

	_, err := h.svc.Release(ctx, h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.NotErrorIs(t, err, context.Canceled)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Equal(t, enums.BookingStatusAwaitingConfirmation, booking.Status)

	rows := h.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusFailed, rows[0].Status)
}

func TestReleaseRejectedTransferRollsBack(t *testing.T) {
	gateway := successGateway()
	gateway.transfer = &paystack.Transfer{Status: paystack.TransferFailed}
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, gateway)

	_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransferFailed))

	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
}

func TestReleasePendingTransferStaysInFlight(t *testing.T) {
	gateway := successGateway()
	gateway.transfer = &paystack.Transfer{Status: paystack.TransferPending, TransferCode: "TRF_pending"}
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, gateway)

	result, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessingRelease, result.Status)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusProcessingRelease, payment.Status)
	assert.Equal(t, enums.BookingStatusPendingExecution, booking.Status)

	rows := h.payouts(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusProcessing, rows[0].Status)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentReleasePending}, h.notifier.events())

	_, err = h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.Equal(t, "release_in_progress", reasonOf(err))
}

func TestReleaseGates(t *testing.T) {
	cases := []struct {
		name    string
		payment enums.PaymentStatus
		booking enums.BookingStatus
		reason  string
	}{
		{"pending payment", enums.PaymentStatusPending, enums.BookingStatusConfirmed, "payment_pending"},
		{"already released", enums.PaymentStatusReleased, enums.BookingStatusCompleted, "already_released"},
		{"refunded", enums.PaymentStatusRefunded, enums.BookingStatusCancelled, "refunded"},
		{"booking not ready", enums.PaymentStatusEscrow, enums.BookingStatusInProgress, "booking_not_ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.payment, tc.booking, successGateway())
			_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
			assert.Equal(t, tc.reason, reasonOf(err))
			assert.Empty(t, h.gateway.transfers)
		})
	}
}

func TestReleaseRequiresBookingClient(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())

	_, err := h.svc.Release(context.Background(), uuid.New(), h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Release(context.Background(), h.seed.ClientID, uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReleaseRequiresBankDetails(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())
	require.NoError(t, h.conn.Model(&models.Provider{}).Where("id = ?", h.seed.Provider.ID).Update("account_number", "").Error)

	_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRecipientInvalid))

	payment, _ := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
	assert.Empty(t, h.payouts(t))
}

func TestReleaseRecipientReuse(t *testing.T) {
	t.Run("stored live code is reused", func(t *testing.T) {
		h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())
		require.NoError(t, h.conn.Model(&models.Provider{}).Where("id = ?", h.seed.Provider.ID).Update("recipient_code", "RCP_stored").Error)

		_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
		require.NoError(t, err)
		assert.Zero(t, h.gateway.recipientCalls)
		assert.Equal(t, "RCP_stored", h.gateway.transfers[0].RecipientCode)
	})

	t.Run("simulated code is replaced", func(t *testing.T) {
		h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())
		require.NoError(t, h.conn.Model(&models.Provider{}).Where("id = ?", h.seed.Provider.ID).Update("recipient_code", "TEST_RCP_abc").Error)

		_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, h.gateway.recipientCalls)
		assert.Equal(t, "RCP_live01", h.gateway.transfers[0].RecipientCode)
	})

	t.Run("recipient failure rolls back", func(t *testing.T) {
		gateway := successGateway()
		gateway.recipientErr = pkgerrors.New(pkgerrors.CodeRecipientInvalid, "invalid account number")
		h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, gateway)

		_, err := h.svc.Release(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRecipientInvalid))
		payment, booking := dbtest.Reload(t, h.conn, h.seed)
		assert.Equal(t, enums.PaymentStatusEscrow, payment.Status)
		assert.Equal(t, enums.BookingStatusAwaitingConfirmation, booking.Status)
		assert.Empty(t, gateway.transfers)
	})
}

func TestCashRelease(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusCashPending, enums.BookingStatusAwaitingConfirmation, successGateway())

	result, err := h.svc.CashRelease(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, enums.PaymentStatusCashPaid, result.Status)
	assert.Equal(t, enums.BookingStatusAwaitingConfirmation, result.BookingStatus)
	assert.Equal(t, []enums.OutboxEventType{enums.EventCashPaymentReported}, h.notifier.events())

	again, err := h.svc.CashRelease(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.NoError(t, err)
	assert.False(t, again.Updated)
	assert.Len(t, h.notifier.sent, 1)
	assert.Empty(t, h.gateway.transfers)
}

func TestCashReleaseRejectsEscrowPayment(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())

	_, err := h.svc.CashRelease(context.Background(), h.seed.ClientID, h.seed.Booking.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
}

func TestRefund(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusInProgress, successGateway())

	result, err := h.svc.Refund(context.Background(), uuid.New(), h.seed.Payment.ID)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	payment, booking := dbtest.Reload(t, h.conn, h.seed)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, enums.BookingStatusCancelled, booking.Status)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentRefunded}, h.notifier.events())
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestTransferTimeoutDefaults(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusEscrow, enums.BookingStatusAwaitingConfirmation, successGateway())
	assert.Equal(t, 15*time.Second, h.svc.transferTimeout)
}
