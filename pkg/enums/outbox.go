package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregatePayout  OutboxAggregateType = "payout"
)

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePayment || a == AggregatePayout
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventPaymentReceived       OutboxEventType = "payment_received"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentReleased       OutboxEventType = "payment_released"
	EventPaymentReleasePending OutboxEventType = "payment_release_pending"
	EventPayoutFailed          OutboxEventType = "payout_failed"
	EventCashPaymentReported   OutboxEventType = "cash_payment_reported"
	EventPaymentRefunded       OutboxEventType = "payment_refunded"
)

// eventAggregates fixes which aggregate each event is written against.
// Transfer outcomes hang off the payout row, everything else off the payment.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventPaymentReceived:       AggregatePayment,
	EventPaymentFailed:         AggregatePayment,
	EventPaymentReleased:       AggregatePayment,
	EventCashPaymentReported:   AggregatePayment,
	EventPaymentRefunded:       AggregatePayment,
	EventPaymentReleasePending: AggregatePayout,
	EventPayoutFailed:          AggregatePayout,
}

// OutboxEventTypes returns every known event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	return []OutboxEventType{
		EventPaymentReceived,
		EventPaymentFailed,
		EventPaymentReleased,
		EventPaymentReleasePending,
		EventPayoutFailed,
		EventCashPaymentReported,
		EventPaymentRefunded,
	}
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type rows of this event must carry, or ""
// for an unknown event.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}
