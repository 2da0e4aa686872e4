package escrow

import (
	"fmt"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// Transition names one edge of the escrow lifecycle. Every entry point (webhooks,
// reconciliation, release, cash, refund) moves money state through these.
type Transition string

const (
	ConfirmCharge   Transition = "confirm-charge"
	FailCharge      Transition = "fail-charge"
	BeginRelease    Transition = "begin-release"
	CompleteRelease Transition = "complete-release"
	RollbackRelease Transition = "rollback-release"
	FailTransfer    Transition = "fail-transfer"
	ReportCash      Transition = "report-cash"
	Refund          Transition = "refund"
)

func (t Transition) String() string { return string(t) }

type rule struct {
	from []enums.PaymentStatus
	// settled statuses turn the transition into a no-op.
	settled  []enums.PaymentStatus
	bookings []enums.BookingStatus
	to       enums.PaymentStatus
	booking  func(current, restore enums.BookingStatus) enums.BookingStatus
	note     string
}

func keepBooking(current, _ enums.BookingStatus) enums.BookingStatus { return current }

func setBooking(status enums.BookingStatus) func(current, restore enums.BookingStatus) enums.BookingStatus {
	return func(enums.BookingStatus, enums.BookingStatus) enums.BookingStatus { return status }
}

func allExcept(exclude ...enums.PaymentStatus) []enums.PaymentStatus {
	var out []enums.PaymentStatus
	for _, status := range enums.PaymentStatuses() {
		if !containsPayment(exclude, status) {
			out = append(out, status)
		}
	}
	return out
}

var openBookings = []enums.BookingStatus{
	enums.BookingStatusPending,
	enums.BookingStatusConfirmed,
	enums.BookingStatusPendingExecution,
	enums.BookingStatusInProgress,
	enums.BookingStatusAwaitingConfirmation,
}

var rules = map[Transition]rule{
	ConfirmCharge: {
		from:    []enums.PaymentStatus{enums.PaymentStatusPending},
		settled: allExcept(enums.PaymentStatusPending),
		to:      enums.PaymentStatusEscrow,
		booking: func(current, _ enums.BookingStatus) enums.BookingStatus {
			if current == enums.BookingStatusConfirmed {
				return enums.BookingStatusPendingExecution
			}
			return current
		},
		note: "payment already processed",
	},
	FailCharge: {
		from:    []enums.PaymentStatus{enums.PaymentStatusPending},
		settled: allExcept(enums.PaymentStatusPending),
		to:      enums.PaymentStatusFailed,
		booking: setBooking(enums.BookingStatusCancelled),
		note:    "charge failure ignored, payment already settled",
	},
	BeginRelease: {
		from:     releasablePayments,
		bookings: releasableBookings,
		to:       enums.PaymentStatusProcessingRelease,
		booking:  setBooking(enums.BookingStatusPendingExecution),
	},
	CompleteRelease: {
		from:    []enums.PaymentStatus{enums.PaymentStatusProcessingRelease, enums.PaymentStatusEscrow},
		settled: []enums.PaymentStatus{enums.PaymentStatusReleased},
		to:      enums.PaymentStatusReleased,
		booking: setBooking(enums.BookingStatusCompleted),
		note:    "payment already released",
	},
	RollbackRelease: {
		from:    []enums.PaymentStatus{enums.PaymentStatusProcessingRelease},
		settled: allExcept(enums.PaymentStatusProcessingRelease),
		to:      enums.PaymentStatusEscrow,
		booking: func(_, restore enums.BookingStatus) enums.BookingStatus { return restore },
		note:    "release no longer in flight",
	},
	FailTransfer: {
		from:    []enums.PaymentStatus{enums.PaymentStatusProcessingRelease},
		settled: allExcept(enums.PaymentStatusProcessingRelease),
		to:      enums.PaymentStatusEscrow,
		booking: setBooking(enums.BookingStatusPendingExecution),
		note:    "transfer failure ignored, release no longer in flight",
	},
	ReportCash: {
		from:     []enums.PaymentStatus{enums.PaymentStatusCashPending},
		settled:  []enums.PaymentStatus{enums.PaymentStatusCashPaid},
		bookings: releasableBookings,
		to:       enums.PaymentStatusCashPaid,
		booking:  keepBooking,
		note:     "cash payment already reported",
	},
	Refund: {
		from:     []enums.PaymentStatus{enums.PaymentStatusEscrow},
		settled:  []enums.PaymentStatus{enums.PaymentStatusRefunded},
		bookings: openBookings,
		to:       enums.PaymentStatusRefunded,
		booking:  setBooking(enums.BookingStatusCancelled),
		note:     "payment already refunded",
	},
}

// Transitions lists every named transition.
func Transitions() []Transition {
	return []Transition{ConfirmCharge, FailCharge, BeginRelease, CompleteRelease, RollbackRelease, FailTransfer, ReportCash, Refund}
}

// Target returns the payment status a transition moves to.
func Target(t Transition) (enums.PaymentStatus, bool) {
	r, ok := rules[t]
	return r.to, ok
}

// step is the planned effect of a transition on the current pair.
type step struct {
	next Pair
	noop bool
	note string
}

// plan evaluates a transition against the locked pair without touching storage.
// restore is only read by RollbackRelease.
func plan(t Transition, current Pair, restore enums.BookingStatus) (step, error) {
	r, ok := rules[t]
	if !ok {
		return step{}, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown transition %q", t))
	}
	if containsPayment(r.settled, current.Payment) {
		return step{next: current, noop: true, note: r.note}, nil
	}
	if t == BeginRelease {
		if err := CheckRelease(current); err != nil {
			return step{}, err
		}
	}
	if !containsPayment(r.from, current.Payment) {
		return step{}, invalidState("invalid_transition",
			fmt.Sprintf("cannot %s a payment in status %s", t, current.Payment), current, joinPayments(r.from))
	}
	if len(r.bookings) > 0 && !containsBooking(r.bookings, current.Booking) {
		return step{}, invalidState("booking_not_ready",
			fmt.Sprintf("cannot %s while booking is %s", t, current.Booking), current, joinBookings(r.bookings))
	}
	if t == RollbackRelease && !containsBooking(releasableBookings, restore) {
		return step{}, pkgerrors.New(pkgerrors.CodeInternal, "rollback requires the pre-release booking status").
			WithDetails(pkgerrors.StateDetails{CurrentStatus: current.Payment.String(), BookingStatus: restore.String()})
	}

	next := Pair{Payment: r.to, Booking: r.booking(current.Booking, restore)}
	if !ValidPair(next) {
		return step{}, invalidState("invalid_pair",
			fmt.Sprintf("%s would leave payment %s with booking %s", t, next.Payment, next.Booking), current, next.Payment.String())
	}
	return step{next: next}, nil
}
