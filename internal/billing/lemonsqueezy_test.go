package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckout(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer key_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"attributes":{"url":"https://store.lemonsqueezy.com/checkout/abc"}}}`))
	}))
	defer ts.Close()

	c := NewLemonSqueezyClient("key_test", "store_1")
	c.baseURL = ts.URL

	url, err := c.CreateCheckout(context.Background(), "102", "user@example.com", 42, "pro", "https://transcriptget.com/account")
	require.NoError(t, err)
	assert.Equal(t, "https://store.lemonsqueezy.com/checkout/abc", url)

	data := gotBody["data"].(map[string]any)
	attrs := data["attributes"].(map[string]any)
	checkout := attrs["checkout_data"].(map[string]any)
	custom := checkout["custom"].(map[string]any)
	assert.Equal(t, "42", custom["user_id"])
	assert.Equal(t, "pro", custom["plan"])
}

func TestCreateCheckoutUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"detail":"variant not found"}]}`))
	}))
	defer ts.Close()

	c := NewLemonSqueezyClient("key_test", "store_1")
	c.baseURL = ts.URL

	_, err := c.CreateCheckout(context.Background(), "bad", "user@example.com", 1, "pro", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}

func TestCreateCheckoutMissingURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"attributes":{}}}`))
	}))
	defer ts.Close()

	c := NewLemonSqueezyClient("key_test", "store_1")
	c.baseURL = ts.URL

	_, err := c.CreateCheckout(context.Background(), "102", "u@e.com", 1, "pro", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing url")
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewLemonSqueezyClient("", "").Configured())
	assert.False(t, NewLemonSqueezyClient("key", "").Configured())
	assert.True(t, NewLemonSqueezyClient("key", "store").Configured())
}
