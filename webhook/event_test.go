package webhook

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72/webhook"
)

const testSecret = "whsec_test_secret"

func signedHeader(payload []byte, secret string) string {
	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))
}

func TestDecodeSubscriptionEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_1",
				"status": "active",
				"customer": "cus_1"
			}
		}
	}`)

	event, err := Decode(payload, signedHeader(payload, testSecret), testSecret)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, KindSubscriptionUpdated, event.Kind)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ID)
	require.NotNil(t, event.Subscription.Customer)
	assert.Equal(t, "cus_1", event.Subscription.Customer.ID)
}

func TestDecodeUnknownKind(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {
			"object": {}
		}
	}`)

	event, err := Decode(payload, signedHeader(payload, testSecret), testSecret)
	require.NoError(t, err)

	assert.Equal(t, KindIgnored, event.Kind)
	assert.Nil(t, event.Subscription)
	assert.Nil(t, event.Invoice)
	assert.Nil(t, event.PaymentIntent)
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_3", "type": "invoice.paid", "data": {"object": {}}}`)

	_, err := Decode(payload, signedHeader(payload, "whsec_wrong"), testSecret)
	assert.Error(t, err)

	_, err = Decode(payload, "t=0,v1=deadbeef", testSecret)
	assert.Error(t, err)
}
