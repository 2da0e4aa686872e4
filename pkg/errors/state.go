package errors

// StateDetails tells the caller which status blocked an action so clients can render
// "still processing" instead of a bare failure.
type StateDetails struct {
	Reason         string `json:"reason,omitempty"`
	CurrentStatus  string `json:"currentStatus,omitempty"`
	ExpectedStatus string `json:"expectedStatus,omitempty"`
	BookingStatus  string `json:"bookingStatus,omitempty"`
	GatewayStatus  string `json:"gatewayStatus,omitempty"`
	Field          string `json:"field,omitempty"`
}

// StateDetailsOf extracts StateDetails from a typed error, if present.
func StateDetailsOf(err error) (StateDetails, bool) {
	typed := As(err)
	if typed == nil {
		return StateDetails{}, false
	}
	switch d := typed.Details().(type) {
	case StateDetails:
		return d, true
	case *StateDetails:
		if d != nil {
			return *d, true
		}
	}
	return StateDetails{}, false
}
