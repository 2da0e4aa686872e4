package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

type verifyBody struct {
	Reference string  `json:"reference" validate:"required,max=16,gatewayref"`
	Note      *string `json:"note"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyTrimsAndValidates(t *testing.T) {
	var body verifyBody
	require.NoError(t, DecodeJSONBody(post(`{"reference":"  SH-abc.1=  ","note":" hi "}`), &body))
	assert.Equal(t, "SH-abc.1=", body.Reference)
	require.NotNil(t, body.Note)
	assert.Equal(t, "hi", *body.Note)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := []struct {
		name, body, field string
	}{
		{"empty", ``, ""},
		{"unknown field", `{"reference":"a","extra":1}`, "field"},
		{"wrong type", `{"reference":12}`, "field"},
		{"trailing object", `{"reference":"a"}{"reference":"b"}`, ""},
		{"bad charset", `{"reference":"ref 1/2"}`, "reference"},
		{"blank after trim", `{"reference":"   "}`, "reference"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body verifyBody
			err := DecodeJSONBody(post(tc.body), &body)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestDecodeJSONBodyTooLarge(t *testing.T) {
	payload := `{"reference":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	var body verifyBody
	err := DecodeJSONBody(post(payload), &body)
	require.Error(t, err)
	assert.Contains(t, pkgerrors.As(err).Message(), "too large")
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=900", nil)

	n, err := ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = ParseQueryInt(req, "missing", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	_, err = ParseQueryInt(req, "bad", 50, 1, 200)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = ParseQueryInt(req, "big", 50, 1, 200)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("paymentId", id.String())
	rctx.URLParams.Add("bad", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := ParseUUIDParam(req, "paymentId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "bad")
	assert.Error(t, err)
	_, err = ParseUUIDParam(req, "absent")
	assert.Error(t, err)
}
