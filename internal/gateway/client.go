// Package gateway talks to the hosted payment provider. The provider owns
// all money movement; this package only creates checkout sessions and
// verifies the signatures on the provider's confirmation webhooks. Local
// order state never changes here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SuperGrowthServices/parts-market/internal/config"
)

type Client struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
}

func NewClient(cfg *config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:     &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type CheckoutSessionRequest struct {
	OrderID    string
	BuyerEmail string
	LineItems  []LineItem
}

type CheckoutSession struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateCheckoutSession opens a hosted checkout session. The order id rides
// along as metadata and is the sole key the settlement reconciler uses to
// correlate the confirmation webhook back to local state.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	lineItems := make([]map[string]interface{}, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		lineItems = append(lineItems, map[string]interface{}{
			"description": item.Description,
			"amount":      item.Amount.String(),
			"currency":    "AED",
		})
	}

	body := map[string]interface{}{
		"line_items":     lineItems,
		"customer_email": req.BuyerEmail,
		"success_url":    c.successURL,
		"cancel_url":     c.cancelURL,
		"metadata": map[string]string{
			"order_id": req.OrderID,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	url := c.baseURL + "/v1/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if session.ID == "" || session.RedirectURL == "" {
		return nil, fmt.Errorf("gateway response missing session id or redirect url")
	}

	return &session, nil
}
