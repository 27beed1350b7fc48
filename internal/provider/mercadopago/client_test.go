package mercadopago

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/nutrilog/backend/internal/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/preapproval/pre-1":
			_, _ = w.Write([]byte(`{"id":"pre-1","status":"Authorized","external_reference":" 1234 ","reason":"Monthly plan"}`))
		case "/authorized_payments/555":
			_, _ = w.Write([]byte(`{"id":555,"preapproval_id":"pre-1","status":"processed"}`))
		case "/authorized_payments/777":
			_, _ = w.Write([]byte(`{"id":777}`))
		case "/preapproval/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestLookupPreapproval(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	c := &Client{AccessToken: "token", BaseURL: ts.URL, HTTPClient: ts.Client()}

	sub, err := c.LookupSubscription(context.Background(), types.PaymentEventPreapproval, "pre-1")
	require.NoError(t, err)
	assert.Equal(t, types.RemoteSubscription{ID: "pre-1", Status: "authorized", ExternalReference: "1234", Reason: "Monthly plan"}, sub)
}

func TestLookupFollowsAuthorizedPayment(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	c := &Client{AccessToken: "token", BaseURL: ts.URL, HTTPClient: ts.Client()}

	sub, err := c.LookupSubscription(context.Background(), types.PaymentEventAuthorizedPayment, "555")
	require.NoError(t, err)
	assert.Equal(t, "pre-1", sub.ID)

	_, err = c.LookupSubscription(context.Background(), types.PaymentEventAuthorizedPayment, "777")
	assert.Error(t, err)
}

func TestLookupErrors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	c := &Client{AccessToken: "token", BaseURL: ts.URL, HTTPClient: ts.Client()}

	_, err := c.LookupSubscription(context.Background(), types.PaymentEventPreapproval, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.LookupSubscription(context.Background(), types.PaymentEventPreapproval, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	_, err = (&Client{}).LookupSubscription(context.Background(), types.PaymentEventPreapproval, "pre-1")
	assert.Error(t, err)
}
