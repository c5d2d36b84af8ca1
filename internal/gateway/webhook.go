package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/SuperGrowthServices/parts-market/internal/database"
)

// SignatureHeader carries the provider's HMAC-SHA256 of the raw payload,
// hex-encoded.
const SignatureHeader = "X-Gateway-Signature"

const EventCheckoutCompleted = "checkout.session.completed"

type WebhookEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	PaymentRef string            `json:"payment_ref"`
	Metadata   map[string]string `json:"metadata"`
}

func (e *WebhookEvent) OrderID() string {
	return e.Metadata["order_id"]
}

// Sign computes the hex HMAC-SHA256 of payload under secret. Tests and the
// provider simulator use it; verification uses the same construction.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the webhook signature in constant time. It must be
// called on the raw body before the payload is parsed; a failure means no
// local state may be touched.
func VerifySignature(payload []byte, signature, secret string) error {
	if signature == "" || secret == "" {
		return database.ErrInvalidSignature
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return database.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return database.ErrInvalidSignature
	}

	return nil
}

// ParseWebhook verifies and decodes a payment-confirmation payload.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	if err := VerifySignature(payload, signature, secret); err != nil {
		return nil, err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if event.OrderID() == "" {
		return nil, fmt.Errorf("webhook payload missing order_id metadata")
	}

	return &event, nil
}
