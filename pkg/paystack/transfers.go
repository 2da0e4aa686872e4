package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// Transfer statuses reported by the transfer endpoints.
const (
	TransferSuccess  = "success"
	TransferPending  = "pending"
	TransferFailed   = "failed"
	TransferReversed = "reversed"
	TransferOTP      = "otp"
)

const (
	testRecipientPrefix = "TEST_RCP_"
	testTransferPrefix  = "TEST_TRF_"
	testCodePrefix      = "TEST_"
	recipientTypeNUBAN  = "nuban"
)

// RecipientParams describes the bank account a transfer recipient is created for.
type RecipientParams struct {
	Type          string `json:"type"`
	Name          string `json:"name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	BankCode      string `json:"bank_code" validate:"required"`
	Currency      string `json:"currency"`
}

// TransferParams describes a balance transfer. Amount is in major units.
type TransferParams struct {
	Source        string          `json:"-"`
	Amount        decimal.Decimal `json:"-"`
	RecipientCode string          `json:"-" validate:"required"`
	Reason        string          `json:"-"`
	Reference     string          `json:"-" validate:"required"`
	Currency      string          `json:"-"`
}

// Transfer is the gateway view of a transfer.
type Transfer struct {
	Status        string
	TransferCode  string
	Reference     string
	FailureReason string
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

type transferData struct {
	Status       string `json:"status"`
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Reason       string `json:"reason"`
	Failures     any    `json:"failures"`
}

// IsTestCode reports whether a recipient or transfer code was minted by simulation.
func IsTestCode(code string) bool {
	return strings.HasPrefix(strings.TrimSpace(code), testCodePrefix)
}

// CreateRecipient registers the provider bank account and returns its recipient code.
func (c *Client) CreateRecipient(ctx context.Context, params RecipientParams) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	if params.Type == "" {
		params.Type = recipientTypeNUBAN
	}
	if params.Currency == "" {
		params.Currency = c.currency
	}
	if err := c.validate.Struct(params); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeRecipientInvalid, err, "provider bank details are incomplete")
	}
	if c.Simulating() {
		return testRecipientPrefix + randomHex(6), nil
	}

	env, err := c.do(ctx, http.MethodPost, "/transferrecipient", params)
	if err != nil {
		return "", classifyRecipientError(err)
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || strings.TrimSpace(data.RecipientCode) == "" {
		if err == nil {
			err = errors.New("missing recipient_code")
		}
		return "", classify(&schemaError{err: err}, "create recipient")
	}
	return data.RecipientCode, nil
}

// CreateTransfer moves funds from the balance to a recipient.
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	if err := c.validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "transfer recipient and reference are required")
	}
	minor, err := toMinorUnits(params.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transfer amount")
	}
	if c.Simulating() {
		return &Transfer{
			Status:       TransferSuccess,
			TransferCode: testTransferPrefix + randomHex(6),
			Reference:    params.Reference,
		}, nil
	}

	req := transferRequest{
		Source:    firstNonEmpty(params.Source, c.source),
		Amount:    minor,
		Recipient: params.RecipientCode,
		Reason:    params.Reason,
		Reference: params.Reference,
		Currency:  firstNonEmpty(params.Currency, c.currency),
	}
	env, err := c.do(ctx, http.MethodPost, "/transfer", req)
	if err != nil {
		return nil, classifyTransferError(err)
	}
	return decodeTransfer(env, "create transfer")
}

// VerifyTransfer fetches the current state of a transfer by its reference.
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference is required")
	}
	if c.Simulating() {
		return &Transfer{Status: TransferSuccess, TransferCode: testTransferPrefix + randomHex(6), Reference: reference}, nil
	}
	env, err := c.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, classify(err, "verify transfer")
	}
	return decodeTransfer(env, "verify transfer")
}

func decodeTransfer(env *envelope, action string) (*Transfer, error) {
	var data transferData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, classify(&schemaError{err: err}, action)
	}
	if strings.TrimSpace(data.Status) == "" {
		return nil, classify(&schemaError{err: errors.New("missing transfer status")}, action)
	}
	out := &Transfer{
		Status:       strings.ToLower(data.Status),
		TransferCode: data.TransferCode,
		Reference:    data.Reference,
	}
	if data.Failures != nil {
		out.FailureReason = fmt.Sprint(data.Failures)
	}
	return out, nil
}

func classifyRecipientError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode >= http.StatusInternalServerError {
		return classify(err, "create recipient")
	}
	msg := strings.ToLower(apiErr.Message)
	var field, public string
	switch {
	case strings.Contains(msg, "bank code") || strings.Contains(msg, "bank_code") || strings.Contains(msg, "invalid bank"):
		field, public = "bank_code", "invalid bank code"
	case strings.Contains(msg, "account number") || strings.Contains(msg, "account_number") || strings.Contains(msg, "could not resolve"):
		field, public = "account_number", "invalid account number"
	case strings.Contains(msg, "account name") || strings.Contains(msg, "name"):
		field, public = "account_name", "invalid account name"
	default:
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create recipient failed")
	}
	return pkgerrors.Wrap(pkgerrors.CodeRecipientInvalid, err, public).
		WithDetails(pkgerrors.StateDetails{Reason: apiErr.Message, Field: field})
}

func classifyTransferError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode >= http.StatusInternalServerError {
		return classify(err, "create transfer")
	}
	msg := strings.ToLower(apiErr.Message)
	if strings.Contains(msg, "insufficient") || strings.Contains(msg, "balance is not enough") {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, err, "insufficient balance for transfer")
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransferFailed, err, "transfer rejected").
		WithDetails(pkgerrors.StateDetails{Reason: apiErr.Message})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
