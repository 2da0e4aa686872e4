package enums

// BookingStatus tracks a service engagement between a client and a provider.
type BookingStatus string

const (
	BookingStatusPending              BookingStatus = "PENDING"
	BookingStatusConfirmed            BookingStatus = "CONFIRMED"
	BookingStatusPendingExecution     BookingStatus = "PENDING_EXECUTION"
	BookingStatusInProgress           BookingStatus = "IN_PROGRESS"
	BookingStatusAwaitingConfirmation BookingStatus = "AWAITING_CONFIRMATION"
	BookingStatusCompleted            BookingStatus = "COMPLETED"
	BookingStatusCancelled            BookingStatus = "CANCELLED"
)

// bookingProgression lists the forward path; CANCELLED sits outside it.
var bookingProgression = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusPendingExecution,
	BookingStatusInProgress,
	BookingStatusAwaitingConfirmation,
	BookingStatusCompleted,
}

var validBookingStatuses = append(append([]BookingStatus{}, bookingProgression...), BookingStatusCancelled)

// BookingStatuses returns every known status.
func BookingStatuses() []BookingStatus {
	out := make([]BookingStatus, len(validBookingStatuses))
	copy(out, validBookingStatuses)
	return out
}

func (b BookingStatus) String() string {
	return string(b)
}

func (b BookingStatus) IsValid() bool {
	for _, candidate := range validBookingStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the booking can no longer change.
func (b BookingStatus) IsTerminal() bool {
	return b == BookingStatusCompleted || b == BookingStatusCancelled
}
