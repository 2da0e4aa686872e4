package paystack

import (
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// Webhook event names handled by the platform.
const (
	EventChargeSuccess    = "charge.success"
	EventChargeFailed     = "charge.failed"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Event is a decoded webhook delivery. Data keeps the raw object for auditing.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventData holds the fields read from charge and transfer objects.
type EventData struct {
	ID              json.Number `json:"id"`
	Reference       string      `json:"reference"`
	Status          string      `json:"status"`
	TransferCode    string      `json:"transfer_code"`
	Reason          string      `json:"reason"`
	GatewayResponse string      `json:"gateway_response"`
	Message         string      `json:"message"`
}

// ParseEvent decodes the delivery envelope. Only the event name is required;
// data is checked by Decode once the event is known to be handled.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	evt.Event = strings.TrimSpace(evt.Event)
	if evt.Event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name missing")
	}
	return &evt, nil
}

// Reference returns data.reference when present, ignoring any other shape problem.
func (e *Event) Reference() string {
	var partial struct {
		Reference any `json:"reference"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &partial) != nil {
		return ""
	}
	ref, _ := partial.Reference.(string)
	return strings.TrimSpace(ref)
}

// Decode reads the charge or transfer object. The reference is required.
func (e *Event) Decode() (*EventData, error) {
	var data EventData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s data", e.Event))
		}
	}
	data.Reference = strings.TrimSpace(data.Reference)
	if data.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook reference missing").
			WithDetails(pkgerrors.StateDetails{Field: "data.reference"})
	}
	return &data, nil
}

// FailureReason picks the most descriptive failure text of a charge or transfer.
func (d EventData) FailureReason() string {
	for _, candidate := range []string{d.GatewayResponse, d.Reason, d.Message} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}
