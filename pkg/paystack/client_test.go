package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, cfg config.PaystackConfig, rt roundTripFunc) *Client {
	t.Helper()
	if cfg.SecretKey == "" {
		cfg.SecretKey = "sk_test_secret"
	}
	client, err := New(cfg, WithBaseURL("http://paystack.test"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestVerifyPaymentSuccess(t *testing.T) {
	var captured *http.Request
	client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(http.StatusOK, `{"status":true,"message":"Verification successful","data":{"id":4099260516,"status":"success","reference":"bk_1700000000000_ab12","amount":2500050,"currency":"NGN","paid_at":"2026-03-01T10:00:00Z","gateway_response":"Successful"}}`), nil
	})

	result, err := client.VerifyPayment(context.Background(), "bk_1700000000000_ab12")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if captured.URL.String() != "http://paystack.test/transaction/verify/bk_1700000000000_ab12" {
		t.Fatalf("unexpected url %s", captured.URL)
	}
	if captured.Header.Get("Authorization") != "Bearer sk_test_secret" {
		t.Fatalf("missing bearer auth")
	}
	if result.Status != TransactionSuccess || result.TransactionID != "4099260516" {
		t.Fatalf("unexpected verification %+v", result)
	}
	if !result.Amount.Equal(decimal.RequireFromString("25000.50")) {
		t.Fatalf("expected 25000.50, got %s", result.Amount)
	}
	if result.PaidAt == nil || !result.PaidAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected paid_at %v", result.PaidAt)
	}
}

func TestVerifyPaymentSchemaErrorThenRawFallback(t *testing.T) {
	body := `{"status":true,"message":"ok","data":{"id":"4099260516","status":"success","reference":"bk_1","amount":"oops"}}`
	client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, body), nil
	})

	_, err := client.VerifyPayment(context.Background(), "bk_1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeGatewaySchema) {
		t.Fatalf("expected schema error, got %v", err)
	}

	raw, err := client.VerifyPaymentRaw(context.Background(), "bk_1")
	if err != nil {
		t.Fatalf("raw verify: %v", err)
	}
	if raw.Status != TransactionSuccess || raw.TransactionID != "4099260516" || raw.Reference != "bk_1" {
		t.Fatalf("unexpected raw verification %+v", raw)
	}
}

func TestVerifyPaymentMissingStatusIsSchemaError(t *testing.T) {
	client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"status":true,"data":{"id":12,"reference":"bk_1"}}`), nil
	})
	_, err := client.VerifyPayment(context.Background(), "bk_1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeGatewaySchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestVerifyPaymentGatewayFailures(t *testing.T) {
	cases := map[string]roundTripFunc{
		"non 2xx": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusInternalServerError, `{"status":false,"message":"upstream down"}`), nil
		},
		"network": func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		},
		"status false": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"status":false,"message":"Transaction reference not found"}`), nil
		},
	}
	for name, rt := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, config.PaystackConfig{}, rt)
			_, err := client.VerifyPayment(context.Background(), "bk_1")
			if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
				t.Fatalf("expected gateway error, got %v", err)
			}
		})
	}
}

func TestCreateTransferConvertsToMinorUnitsOnce(t *testing.T) {
	var payload map[string]any
	client := newTestClient(t, config.PaystackConfig{TransferSource: "balance", Currency: "NGN"}, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/transfer" || req.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"status":true,"data":{"status":"success","transfer_code":"TRF_abc","reference":"trf_1"}}`), nil
	})

	transfer, err := client.CreateTransfer(context.Background(), TransferParams{
		Amount:        decimal.RequireFromString("1500.25"),
		RecipientCode: "RCP_1",
		Reference:     "trf_1",
		Reason:        "booking payout",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if payload["amount"] != float64(150025) {
		t.Fatalf("expected 150025 kobo, got %v", payload["amount"])
	}
	if payload["source"] != "balance" || payload["currency"] != "NGN" || payload["recipient"] != "RCP_1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if transfer.Status != TransferSuccess || transfer.TransferCode != "TRF_abc" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
}

func TestCreateTransferRejectsFractionalKobo(t *testing.T) {
	client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
		t.Fatal("gateway must not be called")
		return nil, nil
	})
	_, err := client.CreateTransfer(context.Background(), TransferParams{
		Amount:        decimal.RequireFromString("10.005"),
		RecipientCode: "RCP_1",
		Reference:     "trf_1",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTransferClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   pkgerrors.Code
	}{
		{"insufficient", http.StatusBadRequest, `{"status":false,"message":"Your balance is not enough to fulfil this request"}`, pkgerrors.CodeInsufficientFunds},
		{"insufficient explicit", http.StatusBadRequest, `{"status":false,"message":"Insufficient balance"}`, pkgerrors.CodeInsufficientFunds},
		{"rejected", http.StatusBadRequest, `{"status":false,"message":"Recipient is inactive"}`, pkgerrors.CodeTransferFailed},
		{"server", http.StatusBadGateway, `bad gateway`, pkgerrors.CodeGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})
			_, err := client.CreateTransfer(context.Background(), TransferParams{
				Amount:        decimal.NewFromInt(100),
				RecipientCode: "RCP_1",
				Reference:     "trf_1",
			})
			if got := pkgerrors.CodeOf(err); got != tc.code {
				t.Fatalf("expected %s, got %s (%v)", tc.code, got, err)
			}
		})
	}
}

func TestCreateRecipientClassifiesInvalidFields(t *testing.T) {
	cases := map[string]string{
		"Invalid bank code":         "bank_code",
		"Account number is invalid": "account_number",
		"Could not resolve account name. Check parameters or try again.": "account_number",
	}
	for message, field := range cases {
		t.Run(field+"/"+message, func(t *testing.T) {
			client := newTestClient(t, config.PaystackConfig{}, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadRequest, `{"status":false,"message":"`+message+`"}`), nil
			})
			_, err := client.CreateRecipient(context.Background(), RecipientParams{
				Name:          "Ada Obi",
				AccountNumber: "0001234567",
				BankCode:      "058",
			})
			if !pkgerrors.IsCode(err, pkgerrors.CodeRecipientInvalid) {
				t.Fatalf("expected recipient invalid, got %v", err)
			}
			details, ok := pkgerrors.StateDetailsOf(err)
			if !ok || details.Field != field {
				t.Fatalf("expected field %s, got %+v", field, details)
			}
		})
	}
}

func TestCreateRecipientSuccess(t *testing.T) {
	client := newTestClient(t, config.PaystackConfig{Currency: "NGN"}, func(req *http.Request) (*http.Response, error) {
		var payload map[string]any
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if payload["type"] != "nuban" || payload["currency"] != "NGN" || payload["bank_code"] != "058" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		return jsonResponse(http.StatusCreated, `{"status":true,"data":{"recipient_code":"RCP_live_1"}}`), nil
	})
	code, err := client.CreateRecipient(context.Background(), RecipientParams{
		Name:          "Ada Obi",
		AccountNumber: "0001234567",
		BankCode:      "058",
	})
	if err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	if code != "RCP_live_1" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestSimulationSkipsNetwork(t *testing.T) {
	client := newTestClient(t, config.PaystackConfig{Env: "test", SimulateTransfer: true}, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected network call to %s", req.URL)
		return nil, nil
	})

	code, err := client.CreateRecipient(context.Background(), RecipientParams{Name: "A", AccountNumber: "1", BankCode: "2"})
	if err != nil || !strings.HasPrefix(code, "TEST_RCP_") || !IsTestCode(code) {
		t.Fatalf("unexpected simulated recipient %q err=%v", code, err)
	}
	transfer, err := client.CreateTransfer(context.Background(), TransferParams{
		Amount:        decimal.NewFromInt(10),
		RecipientCode: code,
		Reference:     "trf_1",
	})
	if err != nil || !strings.HasPrefix(transfer.TransferCode, "TEST_TRF_") || transfer.Status != TransferSuccess {
		t.Fatalf("unexpected simulated transfer %+v err=%v", transfer, err)
	}
	if client.IsLive() {
		t.Fatal("test client must not report live")
	}
}

func TestNewRejectsLiveSimulation(t *testing.T) {
	_, err := New(config.PaystackConfig{SecretKey: "sk_live", Env: "live", SimulateTransfer: true})
	if err == nil {
		t.Fatal("expected error for simulated live client")
	}
}

func TestVerifySignature(t *testing.T) {
	client := newTestClient(t, config.PaystackConfig{}, nil)
	body := []byte(`{"event":"charge.success","data":{"reference":"bk_1"}}`)
	sig := Sign("sk_test_secret", body)

	if !client.VerifySignature(body, sig) {
		t.Fatal("expected valid signature")
	}
	if !client.VerifySignature(body, strings.ToUpper(sig)) {
		t.Fatal("hex case must not matter")
	}
	if client.VerifySignature(append(body, ' '), sig) {
		t.Fatal("tampered body must fail")
	}
	if client.VerifySignature(body, "") {
		t.Fatal("empty signature must fail")
	}
}

func TestGenerateReference(t *testing.T) {
	a := GenerateReference("trf")
	b := GenerateReference("trf")
	if a == b {
		t.Fatal("references must be unique")
	}
	parts := strings.Split(a, "_")
	if len(parts) != 3 || parts[0] != "trf" || len(parts[2]) != 12 {
		t.Fatalf("unexpected reference shape %s", a)
	}
}

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"transfer.failed","data":{"reference":" trf_1 ","transfer_code":"TRF1","reason":"Payout for booking","gateway_response":"Account could not be credited"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data, err := evt.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Event != EventTransferFailed || data.Reference != "trf_1" || data.TransferCode != "TRF1" {
		t.Fatalf("unexpected event %+v %+v", evt, data)
	}
	if evt.Reference() != "trf_1" {
		t.Fatalf("unexpected reference %q", evt.Reference())
	}
	if got := data.FailureReason(); got != "Account could not be credited" {
		t.Fatalf("expected gateway response as failure reason, got %q", got)
	}

	for _, body := range []string{`not json`, `{"data":{"reference":"x"}}`, `{"event":"  "}`} {
		if _, err := ParseEvent([]byte(body)); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %s, got %v", body, err)
		}
	}
}

func TestParseEventWithoutReference(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"customeridentification.success","data":{"customer_code":"CUS_X"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Reference() != "" {
		t.Fatalf("expected empty reference, got %q", evt.Reference())
	}
	if _, err := evt.Decode(); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error from decode, got %v", err)
	}

	odd, err := ParseEvent([]byte(`{"event":"subscription.create","data":{"reference":42}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if odd.Reference() != "" {
		t.Fatalf("non-string reference must be ignored, got %q", odd.Reference())
	}
}
