package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// Transaction statuses reported by the verify endpoint.
const (
	TransactionSuccess   = "success"
	TransactionAbandoned = "abandoned"
	TransactionFailed    = "failed"
	TransactionPending   = "pending"
	TransactionOngoing   = "ongoing"
	TransactionReversed  = "reversed"
)

// Verification is the typed answer of a transaction verification.
type Verification struct {
	Status          string
	Reference       string
	TransactionID   string
	Amount          decimal.Decimal
	Currency        string
	PaidAt          *time.Time
	GatewayResponse string
}

// RawVerification carries the few fields read from an untyped verify payload.
type RawVerification struct {
	Status        string
	Reference     string
	TransactionID string
	PaidAt        *time.Time
}

type verifyData struct {
	ID              int64      `json:"id" validate:"required,gt=0"`
	Status          string     `json:"status" validate:"required"`
	Reference       string     `json:"reference" validate:"required"`
	Amount          int64      `json:"amount" validate:"gte=0"`
	Currency        string     `json:"currency"`
	PaidAt          *time.Time `json:"paid_at"`
	GatewayResponse string     `json:"gateway_response"`
}

// VerifyPayment fetches the authoritative status of a charge.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	env, err := c.fetchVerification(ctx, reference)
	if err != nil {
		return nil, err
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, classify(&schemaError{err: fmt.Errorf("decode verification: %w", err)}, "verify payment")
	}
	if err := c.validate.Struct(data); err != nil {
		return nil, classify(&schemaError{err: fmt.Errorf("validate verification: %w", err)}, "verify payment")
	}

	return &Verification{
		Status:          strings.ToLower(data.Status),
		Reference:       data.Reference,
		TransactionID:   strconv.FormatInt(data.ID, 10),
		Amount:          fromMinorUnits(data.Amount),
		Currency:        data.Currency,
		PaidAt:          data.PaidAt,
		GatewayResponse: data.GatewayResponse,
	}, nil
}

// VerifyPaymentRaw re-reads the verify endpoint without a typed shape. It is the
// fallback when VerifyPayment reports a schema error.
func (c *Client) VerifyPaymentRaw(ctx context.Context, reference string) (*RawVerification, error) {
	env, err := c.fetchVerification(ctx, reference)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeGatewaySchema) {
		return nil, err
	}
	if env == nil || len(env.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeGatewaySchema, "verify payment returned no data")
	}

	decoder := json.NewDecoder(bytes.NewReader(env.Data))
	decoder.UseNumber()
	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewaySchema, err, "verify payment returned an unreadable payload")
	}

	raw := &RawVerification{
		Status:        strings.ToLower(stringField(data, "status")),
		Reference:     stringField(data, "reference"),
		TransactionID: stringField(data, "id"),
	}
	if paidAt := stringField(data, "paid_at"); paidAt != "" {
		if ts, err := time.Parse(time.RFC3339, paidAt); err == nil {
			raw.PaidAt = &ts
		}
	}
	if raw.Status == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewaySchema, "verify payment returned no status")
	}
	return raw, nil
}

func (c *Client) fetchVerification(ctx context.Context, reference string) (*envelope, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	env, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, classify(err, "verify payment")
	}
	return env, nil
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// toMinorUnits converts a major-unit amount into the integral kobo value the API expects.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount.String())
	}
	return minor.IntPart(), nil
}
