package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Escrow is a seeded provider, booking and payment triple.
type Escrow struct {
	ClientID uuid.UUID
	Provider models.Provider
	Booking  models.Booking
	Payment  models.Payment
}

// SeedEscrow inserts a provider with bank details plus a booking/payment pair in the given statuses.
func SeedEscrow(t testing.TB, conn *gorm.DB, payment enums.PaymentStatus, booking enums.BookingStatus) Escrow {
	t.Helper()
	amount := decimal.RequireFromString("25000.00")
	out := Escrow{
		ClientID: uuid.New(),
		Provider: models.Provider{
			ID:            uuid.New(),
			UserID:        uuid.New(),
			BankName:      "Access Bank",
			BankCode:      "044",
			AccountNumber: "0690000031",
			AccountName:   "Ada Obi",
		},
	}
	out.Booking = models.Booking{
		ID:            uuid.New(),
		ClientID:      out.ClientID,
		ProviderID:    out.Provider.ID,
		Status:        booking,
		TotalAmount:   amount,
		ScheduledDate: time.Now().Add(48 * time.Hour).UTC(),
	}
	out.Payment = models.Payment{
		ID:          uuid.New(),
		BookingID:   out.Booking.ID,
		Amount:      amount,
		Currency:    "NGN",
		PaystackRef: "bk_" + uuid.NewString(),
		Status:      payment,
	}
	if err := conn.Create(&out.Provider).Error; err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	if err := conn.Create(&out.Booking).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if err := conn.Create(&out.Payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return out
}

// Reload returns the stored payment and booking statuses.
func Reload(t testing.TB, conn *gorm.DB, e Escrow) (models.Payment, models.Booking) {
	t.Helper()
	var payment models.Payment
	if err := conn.Where("id = ?", e.Payment.ID).First(&payment).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	var booking models.Booking
	if err := conn.Where("id = ?", e.Booking.ID).First(&booking).Error; err != nil {
		t.Fatalf("reload booking: %v", err)
	}
	return payment, booking
}
