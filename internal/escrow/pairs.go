package escrow

import (
	"strings"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// Pair is the joint status of a payment and its booking.
type Pair struct {
	Payment enums.PaymentStatus `json:"paymentStatus"`
	Booking enums.BookingStatus `json:"bookingStatus"`
}

var validPairs = map[enums.PaymentStatus][]enums.BookingStatus{
	enums.PaymentStatusPending: {
		enums.BookingStatusPending,
		enums.BookingStatusConfirmed,
		enums.BookingStatusCancelled,
	},
	enums.PaymentStatusEscrow: {
		enums.BookingStatusPending,
		enums.BookingStatusConfirmed,
		enums.BookingStatusPendingExecution,
		enums.BookingStatusInProgress,
		enums.BookingStatusAwaitingConfirmation,
		enums.BookingStatusCompleted,
	},
	enums.PaymentStatusProcessingRelease: {
		enums.BookingStatusPendingExecution,
		enums.BookingStatusAwaitingConfirmation,
		enums.BookingStatusCompleted,
	},
	enums.PaymentStatusReleased: {
		enums.BookingStatusCompleted,
	},
	enums.PaymentStatusFailed: {
		enums.BookingStatusCancelled,
	},
	enums.PaymentStatusRefunded: {
		enums.BookingStatusCancelled,
	},
	enums.PaymentStatusCashPending: {
		enums.BookingStatusConfirmed,
		enums.BookingStatusPendingExecution,
		enums.BookingStatusInProgress,
		enums.BookingStatusAwaitingConfirmation,
	},
	enums.PaymentStatusCashPaid: {
		enums.BookingStatusAwaitingConfirmation,
		enums.BookingStatusCompleted,
	},
}

// releasableBookings are the booking statuses in which funds may leave escrow.
var releasableBookings = []enums.BookingStatus{
	enums.BookingStatusAwaitingConfirmation,
	enums.BookingStatusCompleted,
}

var releasablePayments = []enums.PaymentStatus{
	enums.PaymentStatusEscrow,
	enums.PaymentStatusProcessingRelease,
}

// ValidPair reports whether the combination may be persisted.
func ValidPair(p Pair) bool {
	return containsBooking(validPairs[p.Payment], p.Booking)
}

// ValidPairs returns every persistable combination.
func ValidPairs() []Pair {
	var out []Pair
	for _, payment := range enums.PaymentStatuses() {
		for _, booking := range validPairs[payment] {
			out = append(out, Pair{Payment: payment, Booking: booking})
		}
	}
	return out
}

// InFlight reports whether the pair is the marker written while a transfer is outstanding.
func InFlight(p Pair) bool {
	return p.Payment == enums.PaymentStatusProcessingRelease && p.Booking == enums.BookingStatusPendingExecution
}

// CheckRelease applies the release gating table and returns an InvalidState error
// describing the first blocking status, or nil when funds may be released.
func CheckRelease(p Pair) error {
	switch p.Payment {
	case enums.PaymentStatusEscrow, enums.PaymentStatusProcessingRelease:
	case enums.PaymentStatusPending:
		return invalidState("payment_pending", "payment has not been confirmed yet, verify the payment before releasing", p, joinPayments(releasablePayments))
	case enums.PaymentStatusReleased:
		return invalidState("already_released", "payment has already been released to the provider", p, joinPayments(releasablePayments))
	case enums.PaymentStatusRefunded:
		return invalidState("refunded", "payment was refunded and cannot be released", p, joinPayments(releasablePayments))
	case enums.PaymentStatusFailed:
		return invalidState("payment_failed", "payment failed and cannot be released", p, joinPayments(releasablePayments))
	default:
		return invalidState("not_in_escrow", "payment is not held in escrow", p, joinPayments(releasablePayments))
	}
	if InFlight(p) {
		return invalidState("release_in_progress", "release already in progress, try again in a moment", p, joinPayments(releasablePayments))
	}
	if !containsBooking(releasableBookings, p.Booking) {
		return invalidState("booking_not_ready", "booking must be awaiting confirmation or completed before release", p, joinBookings(releasableBookings))
	}
	return nil
}

func invalidState(reason, message string, p Pair, expected string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, message).WithDetails(pkgerrors.StateDetails{
		Reason:         reason,
		CurrentStatus:  p.Payment.String(),
		ExpectedStatus: expected,
		BookingStatus:  p.Booking.String(),
	})
}

func containsBooking(list []enums.BookingStatus, status enums.BookingStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func containsPayment(list []enums.PaymentStatus, status enums.PaymentStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func joinPayments(list []enums.PaymentStatus) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func joinBookings(list []enums.BookingStatus) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
