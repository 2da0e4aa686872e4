package enums

// PaymentStatus tracks the escrow lifecycle of a booking payment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusEscrow            PaymentStatus = "ESCROW"
	PaymentStatusProcessingRelease PaymentStatus = "PROCESSING_RELEASE"
	PaymentStatusReleased          PaymentStatus = "RELEASED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusCashPending       PaymentStatus = "CASH_PENDING"
	PaymentStatusCashPaid          PaymentStatus = "CASH_PAID"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusEscrow,
	PaymentStatusProcessingRelease,
	PaymentStatusReleased,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCashPending,
	PaymentStatusCashPaid,
}

// PaymentStatuses returns every known status.
func PaymentStatuses() []PaymentStatus {
	out := make([]PaymentStatus, len(validPaymentStatuses))
	copy(out, validPaymentStatuses)
	return out
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further money movement can happen for the payment.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusReleased, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}
