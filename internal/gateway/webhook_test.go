package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperGrowthServices/parts-market/internal/database"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test"

	sig := Sign(payload, secret)
	assert.NoError(t, VerifySignature(payload, sig, secret))
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	sig := Sign(payload, secret)

	tampered := []byte(`{"id":"evt_2"}`)
	assert.ErrorIs(t, VerifySignature(tampered, sig, secret), database.ErrInvalidSignature)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	sig := Sign(payload, "whsec_a")

	assert.ErrorIs(t, VerifySignature(payload, sig, "whsec_b"), database.ErrInvalidSignature)
}

func TestVerifySignatureRejectsMalformedHex(t *testing.T) {
	payload := []byte(`{}`)
	assert.ErrorIs(t, VerifySignature(payload, "not-hex!!", "whsec_test"), database.ErrInvalidSignature)
}

func TestVerifySignatureRejectsEmptyInputs(t *testing.T) {
	payload := []byte(`{}`)
	sig := Sign(payload, "whsec_test")

	assert.ErrorIs(t, VerifySignature(payload, "", "whsec_test"), database.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(payload, sig, ""), database.ErrInvalidSignature)
}

func TestParseWebhook(t *testing.T) {
	payload := []byte(`{
		"id": "evt_42",
		"type": "checkout.session.completed",
		"payment_ref": "pay_42",
		"metadata": {"order_id": "17"}
	}`)
	secret := "whsec_test"

	event, err := ParseWebhook(payload, Sign(payload, secret), secret)
	require.NoError(t, err)

	assert.Equal(t, "evt_42", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "pay_42", event.PaymentRef)
	assert.Equal(t, "17", event.OrderID())
}

func TestParseWebhookRequiresOrderID(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","payment_ref":"pay_1"}`)
	secret := "whsec_test"

	_, err := ParseWebhook(payload, Sign(payload, secret), secret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_id")
}

func TestParseWebhookDoesNotDecodeUnverifiedPayloads(t *testing.T) {
	payload := []byte(`not even json`)

	_, err := ParseWebhook(payload, "deadbeef", "whsec_test")
	assert.ErrorIs(t, err, database.ErrInvalidSignature)
}
