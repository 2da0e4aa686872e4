package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

const (
	defaultBaseURL          = "https://api.paystack.co"
	defaultTimeout          = 15 * time.Second
	responseBodyLimit int64 = 1 << 20
	errorBodyLimit    int64 = 1024
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Client talks to the Paystack REST API. All amounts crossing this boundary are in
// major currency units; conversion to kobo happens here and nowhere else.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	currency   string
	source     string
	live       bool
	simulate   bool
	validate   *validator.Validate
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// New builds a gateway client from configuration.
func New(cfg config.PaystackConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	live := cfg.Environment() == config.PaystackEnvLive
	if live && cfg.SimulateTransfer {
		return nil, fmt.Errorf("transfer simulation is not allowed in live mode")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		secretKey:  secret,
		currency:   strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		source:     strings.TrimSpace(cfg.TransferSource),
		live:       live,
		simulate:   cfg.SimulateTransfer,
		validate:   validator.New(),
		now:        time.Now,
	}
	WithBaseURL(cfg.BaseURL)(client)
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.currency == "" {
		client.currency = "NGN"
	}
	if client.source == "" {
		client.source = "balance"
	}
	return client, nil
}

// IsLive reports whether the client is pointed at live funds.
func (c *Client) IsLive() bool {
	return c != nil && c.live
}

// Simulating reports whether recipient and transfer calls are answered locally.
func (c *Client) Simulating() bool {
	return c != nil && c.simulate && !c.live
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// apiError is a non-2xx answer from the gateway with its human-readable message.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paystack status %d: %s", e.StatusCode, e.Message)
}

// do executes the request and returns the envelope for 2xx answers. Transport failures and
// non-2xx answers come back as *apiError or a transport error, never as a typed error, so
// callers can classify them per endpoint.
func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &apiError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &schemaError{err: fmt.Errorf("decode envelope: %w", err)}
	}
	if !env.Status {
		return nil, &apiError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}

// schemaError marks a 2xx answer whose body does not match the expected shape.
type schemaError struct {
	err error
}

func (e *schemaError) Error() string { return e.err.Error() }
func (e *schemaError) Unwrap() error { return e.err }

func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && strings.TrimSpace(env.Message) != "" {
		return strings.TrimSpace(env.Message)
	}
	return strings.TrimSpace(string(raw))
}

// classify maps transport, status and decoding failures onto the gateway error codes.
func classify(err error, action string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	var schemaErr *schemaError
	if errors.As(err, &schemaErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewaySchema, err, action+" returned an unexpected payload")
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, action+" failed")
}
