package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperGrowthServices/parts-market/internal/config"
)

func testClient(baseURL string) *Client {
	return NewClient(&config.GatewayConfig{
		BaseURL:    baseURL,
		APIKey:     "sk_test",
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
		Timeout:    5 * time.Second,
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	var captured map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":           "sess_abc",
			"redirect_url": "https://pay.test/sess_abc",
		})
	}))
	defer srv.Close()

	session, err := testClient(srv.URL).CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		OrderID:    "42",
		BuyerEmail: "buyer@test",
		LineItems: []LineItem{
			{Description: "Alternator", Amount: decimal.NewFromInt(250)},
			{Description: "Delivery (standard)", Amount: decimal.NewFromInt(15)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sess_abc", session.ID)
	assert.Equal(t, "https://pay.test/sess_abc", session.RedirectURL)

	metadata, ok := captured["metadata"].(map[string]interface{})
	require.True(t, ok, "request should carry metadata")
	assert.Equal(t, "42", metadata["order_id"])

	items, ok := captured["line_items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "250", first["amount"])
	assert.Equal(t, "AED", first["currency"])
}

func TestCreateCheckoutSessionRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateCheckoutSession(context.Background(), CheckoutSessionRequest{OrderID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCreateCheckoutSessionRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "sess_abc"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateCheckoutSession(context.Background(), CheckoutSessionRequest{OrderID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect url")
}
