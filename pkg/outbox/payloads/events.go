package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/enums"
)

// Audience names which side of a booking a notification is addressed to.
type Audience string

const (
	AudienceClient   Audience = "client"
	AudienceProvider Audience = "provider"
)

type Recipient struct {
	UserID   uuid.UUID `json:"userId"`
	Audience Audience  `json:"audience"`
}

// PaymentEvent covers charge, release, cash and refund notifications.
type PaymentEvent struct {
	PaymentID     uuid.UUID           `json:"paymentId"`
	BookingID     uuid.UUID           `json:"bookingId"`
	Reference     string              `json:"reference"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	BookingStatus enums.BookingStatus `json:"bookingStatus"`
	Recipients    []Recipient         `json:"recipients"`
	Message       string              `json:"message,omitempty"`
}

// PayoutEvent covers transfers that are still pending or have failed.
type PayoutEvent struct {
	PayoutID      uuid.UUID          `json:"payoutId"`
	PaymentID     uuid.UUID          `json:"paymentId"`
	BookingID     uuid.UUID          `json:"bookingId"`
	Reference     string             `json:"reference"`
	TransferCode  string             `json:"transferCode,omitempty"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency"`
	Status        enums.PayoutStatus `json:"status"`
	FailureReason string             `json:"failureReason,omitempty"`
	Recipients    []Recipient        `json:"recipients"`
}

// OrderingKey keeps every notification about one booking in publish order.
func (e PaymentEvent) OrderingKey() string {
	return bookingKey(e.BookingID)
}

// OrderingKey keeps every notification about one booking in publish order.
func (e PayoutEvent) OrderingKey() string {
	return bookingKey(e.BookingID)
}

func bookingKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
