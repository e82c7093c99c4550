package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transcriptget/internal/models"
)

// LemonSqueezyEvent is the envelope of every Lemon Squeezy webhook delivery.
// Older store configurations send dotted event names (subscription.created),
// newer ones underscored; EventName returns the delivered spelling as-is.
type LemonSqueezyEvent struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		EventID    string         `json:"event_id"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string                 `json:"type"`
		ID         string                 `json:"id"`
		Attributes LemonSqueezyAttributes `json:"attributes"`
	} `json:"data"`
}

type LemonSqueezyAttributes struct {
	CustomerID     int64      `json:"customer_id"`
	OrderID        int64      `json:"order_id"`
	VariantID      int64      `json:"variant_id"`
	VariantName    string     `json:"variant_name"`
	Status         string     `json:"status"`
	UserEmail      string     `json:"user_email"`
	RenewsAt       *time.Time `json:"renews_at"`
	SubscriptionID int64      `json:"subscription_id"`
}

func ParseLemonSqueezyEvent(payload []byte) (LemonSqueezyEvent, error) {
	var event LemonSqueezyEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return LemonSqueezyEvent{}, err
	}
	return event, nil
}

// CustomString reads a value the checkout attached under meta.custom_data.
// Lemon Squeezy round-trips these as strings but has been observed sending
// numbers for numeric-looking values.
func (e LemonSqueezyEvent) CustomString(key string) string {
	switch v := e.Meta.CustomData[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// CanonicalLemonSqueezyEvent strips the dotted/underscored spelling split.
func CanonicalLemonSqueezyEvent(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func NormalizeLemonSqueezyStatus(status string) string {
	switch strings.ToLower(status) {
	case "active":
		return models.SubscriptionActive
	case "cancelled", "expired":
		return models.SubscriptionCancelled
	case "past_due", "unpaid":
		return models.SubscriptionUnpaid
	default:
		return models.SubscriptionInactive
	}
}

// PlanForVariant maps a Lemon Squeezy variant to one of our plans, by
// configured variant ID first and by variant name as a fallback.
func PlanForVariant(ids PlanIDs, variantID, variantName string) (string, bool) {
	if plan, ok := ids.planForID(variantID); ok {
		return plan, true
	}
	name := strings.ToLower(variantName)
	for _, plan := range []string{models.PlanStarter, models.PlanPro, models.PlanPlus} {
		if strings.Contains(name, plan) {
			return plan, true
		}
	}
	return "", false
}

const lemonSqueezyBaseURL = "https://api.lemonsqueezy.com"

// LemonSqueezyClient creates hosted checkouts via the Lemon Squeezy REST API.
type LemonSqueezyClient struct {
	apiKey  string
	storeID string
	baseURL string
	client  *http.Client
}

func NewLemonSqueezyClient(apiKey, storeID string) *LemonSqueezyClient {
	return &LemonSqueezyClient{
		apiKey:  apiKey,
		storeID: storeID,
		baseURL: lemonSqueezyBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *LemonSqueezyClient) Configured() bool {
	return c.apiKey != "" && c.storeID != ""
}

// CreateCheckout returns the hosted checkout URL for the given variant. The
// user id and plan ride along in checkout custom data so the webhook can link
// the resulting subscription back to the account.
func (c *LemonSqueezyClient) CreateCheckout(ctx context.Context, variantID, email string, userID int64, plan, redirectURL string) (string, error) {
	payload := map[string]any{
		"data": map[string]any{
			"type": "checkouts",
			"attributes": map[string]any{
				"product_options": map[string]any{
					"redirect_url":     redirectURL,
					"receipt_link_url": redirectURL,
				},
				"checkout_data": map[string]any{
					"email": email,
					"custom": map[string]any{
						"user_id": strconv.FormatInt(userID, 10),
						"plan":    plan,
					},
				},
			},
			"relationships": map[string]any{
				"store":   map[string]any{"data": map[string]any{"type": "stores", "id": c.storeID}},
				"variant": map[string]any{"data": map[string]any{"type": "variants", "id": variantID}},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("lemonsqueezy checkout failed: status %d: %s", resp.StatusCode, truncate(raw, 500))
	}

	var parsed struct {
		Data struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("lemonsqueezy checkout: invalid response: %w", err)
	}
	if parsed.Data.Attributes.URL == "" {
		return "", fmt.Errorf("lemonsqueezy checkout: response missing url")
	}
	return parsed.Data.Attributes.URL, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
