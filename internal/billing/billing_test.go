package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"meta":{"event_name":"subscription_created"}}`)
	secret := "whsec_test"

	assert.True(t, VerifySignature(payload, sign(payload, secret), secret))
	assert.False(t, VerifySignature(payload, sign(payload, "other_secret"), secret))
	assert.False(t, VerifySignature([]byte(`tampered`), sign(payload, secret), secret))
	assert.False(t, VerifySignature(payload, "", secret))
	assert.False(t, VerifySignature(payload, sign(payload, secret), ""))
	assert.False(t, VerifySignature(payload, "deadbeef", secret))
}

func TestCreditsForPlan(t *testing.T) {
	tests := []struct {
		plan    string
		credits int
		ok      bool
	}{
		{"starter", 100, true},
		{"pro", 200, true},
		{"plus", 500, true},
		{"enterprise", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		credits, ok := CreditsForPlan(tt.plan)
		assert.Equal(t, tt.ok, ok, tt.plan)
		assert.Equal(t, tt.credits, credits, tt.plan)
	}
}

func TestNormalizeLemonSqueezyStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", "active"},
		{"Active", "active"},
		{"cancelled", "cancelled"},
		{"expired", "cancelled"},
		{"past_due", "unpaid"},
		{"unpaid", "unpaid"},
		{"on_trial", "inactive"},
		{"paused", "inactive"},
		{"", "inactive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLemonSqueezyStatus(tt.in), tt.in)
	}
}

func TestNormalizePaddleStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", "active"},
		{"canceled", "cancelled"},
		{"cancelled", "cancelled"},
		{"expired", "cancelled"},
		{"past_due", "unpaid"},
		{"unpaid", "unpaid"},
		{"payment_failed", "payment_failed"},
		{"trialing", "inactive"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePaddleStatus(tt.in), tt.in)
	}
}

func TestPlanForVariant(t *testing.T) {
	ids := PlanIDs{Starter: "101", Pro: "102", Plus: "103"}

	plan, ok := PlanForVariant(ids, "102", "")
	require.True(t, ok)
	assert.Equal(t, "pro", plan)

	// name fallback when the variant ID is not configured
	plan, ok = PlanForVariant(ids, "999", "Plus Monthly")
	require.True(t, ok)
	assert.Equal(t, "plus", plan)

	_, ok = PlanForVariant(ids, "999", "Enterprise")
	assert.False(t, ok)

	_, ok = PlanForVariant(PlanIDs{}, "", "")
	assert.False(t, ok)
}

func TestPlanFromPaddleData(t *testing.T) {
	ids := PlanIDs{Starter: "pri_starter", Pro: "pri_pro", Plus: "pri_plus"}

	var data PaddleEventData
	data.Items = make([]PaddleItem, 1)
	data.Items[0].Price.ID = "pri_pro"
	plan, ok := PlanFromPaddleData(ids, data)
	require.True(t, ok)
	assert.Equal(t, "pro", plan)

	data.Items[0].Price.ID = "pri_unknown"
	data.Items[0].Product.Name = "Starter Plan"
	plan, ok = PlanFromPaddleData(ids, data)
	require.True(t, ok)
	assert.Equal(t, "starter", plan)

	data.Items[0].Product.Name = "Lifetime Deal"
	_, ok = PlanFromPaddleData(ids, data)
	assert.False(t, ok)

	_, ok = PlanFromPaddleData(ids, PaddleEventData{})
	assert.False(t, ok)
}

func TestParseLemonSqueezyEvent(t *testing.T) {
	payload := []byte(`{
		"meta": {
			"event_name": "subscription_created",
			"event_id": "evt_1",
			"custom_data": {"user_id": "42", "plan": "pro"}
		},
		"data": {
			"type": "subscriptions",
			"id": "777",
			"attributes": {
				"customer_id": 10,
				"order_id": 20,
				"variant_id": 102,
				"variant_name": "Pro",
				"status": "active",
				"user_email": "Someone@Example.com",
				"renews_at": "2026-01-15T00:00:00Z"
			}
		}
	}`)
	event, err := ParseLemonSqueezyEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "subscription_created", event.Meta.EventName)
	assert.Equal(t, "777", event.Data.ID)
	assert.Equal(t, int64(102), event.Data.Attributes.VariantID)
	assert.Equal(t, "42", event.CustomString("user_id"))
	require.NotNil(t, event.Data.Attributes.RenewsAt)
	assert.Equal(t, 2026, event.Data.Attributes.RenewsAt.Year())
}

func TestCustomStringNumeric(t *testing.T) {
	payload := []byte(`{"meta":{"custom_data":{"user_id": 42}}}`)
	event, err := ParseLemonSqueezyEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "42", event.CustomString("user_id"))
	assert.Equal(t, "", event.CustomString("missing"))
}

func TestCanonicalLemonSqueezyEvent(t *testing.T) {
	assert.Equal(t, "subscription_created", CanonicalLemonSqueezyEvent("subscription.created"))
	assert.Equal(t, "subscription_payment_success", CanonicalLemonSqueezyEvent("subscription_payment_success"))
}

func TestParsePaddleEvent(t *testing.T) {
	payload := []byte(`{
		"event_type": "transaction.completed",
		"event_id": "ntf_1",
		"data": {
			"id": "txn_123",
			"status": "completed",
			"customer_id": "ctm_9",
			"subscription_id": "sub_5",
			"customer_email": "Buyer@Example.com",
			"items": [{"price": {"id": "pri_pro", "name": "Pro"}}]
		}
	}`)
	event, err := ParsePaddleEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "transaction.completed", event.EventType)
	assert.Equal(t, "txn_123", event.Data.ID)
	assert.Equal(t, "buyer@example.com", event.Data.UserEmail())
}
