package billing

import (
	"encoding/json"
	"strings"

	"transcriptget/internal/models"
)

type PaddleEvent struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Data      PaddleEventData `json:"data"`
}

type PaddleEventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerEmail  string         `json:"customer_email"`
	Email          string         `json:"email"`
	Items          []PaddleItem   `json:"items"`
	CustomData     map[string]any `json:"custom_data"`
}

type PaddleItem struct {
	Price struct {
		ID        string `json:"id"`
		ProductID string `json:"product_id"`
		Name      string `json:"name"`
	} `json:"price"`
	Product struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"product"`
}

func ParsePaddleEvent(payload []byte) (PaddleEvent, error) {
	var event PaddleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PaddleEvent{}, err
	}
	return event, nil
}

// UserEmail returns whichever email field the event carries, lowercased.
func (d PaddleEventData) UserEmail() string {
	email := d.CustomerEmail
	if email == "" {
		email = d.Email
	}
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizePaddleStatus(status string) string {
	switch strings.ToLower(status) {
	case "":
		return ""
	case "active":
		return models.SubscriptionActive
	case "cancelled", "canceled", "expired":
		return models.SubscriptionCancelled
	case "past_due", "unpaid":
		return models.SubscriptionUnpaid
	case "payment_failed":
		return models.SubscriptionPaymentFailed
	default:
		return models.SubscriptionInactive
	}
}

// PlanFromPaddleData maps a transaction or subscription to one of our plans
// by looking at the line items: configured price IDs first, then price or
// product names containing a plan name.
func PlanFromPaddleData(ids PlanIDs, data PaddleEventData) (string, bool) {
	for _, item := range data.Items {
		if plan, ok := ids.planForID(item.Price.ID); ok {
			return plan, true
		}
	}
	for _, item := range data.Items {
		name := strings.ToLower(item.Price.Name + " " + item.Product.Name)
		for _, plan := range []string{models.PlanStarter, models.PlanPro, models.PlanPlus} {
			if strings.Contains(name, plan) {
				return plan, true
			}
		}
	}
	return "", false
}
