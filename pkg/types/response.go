package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// PaymentError is the flat error body returned by payment routes.
type PaymentError struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	Details        any    `json:"details,omitempty"`
	CurrentStatus  string `json:"currentStatus,omitempty"`
	ExpectedStatus string `json:"expectedStatus,omitempty"`
	BookingStatus  string `json:"bookingStatus,omitempty"`
}
