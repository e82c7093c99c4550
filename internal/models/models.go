package models

import "time"

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           *string   `json:"name"`
	PasswordHash   *string   `json:"-"`
	GoogleID       *string   `json:"-"`
	CreditsBalance int       `json:"credits_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Subscription struct {
	ID                      int64      `json:"id"`
	UserID                  int64      `json:"user_id"`
	Status                  string     `json:"status"`
	Plan                    string     `json:"plan"`
	CurrentPeriodEnd        *time.Time `json:"current_period_end"`
	Processor               string     `json:"processor"`
	ProcessorSubscriptionID string     `json:"processor_subscription_id"`
	ProcessorCustomerID     string     `json:"processor_customer_id"`
	ProcessorOrderID        string     `json:"processor_order_id"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// CreditLedger rows are append-only. ExternalID uniquely identifies the
// logical billing event that produced the row; the database enforces at most
// one row per external id.
type CreditLedger struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id"`
	Type         string         `json:"type"`
	Amount       int            `json:"amount"`
	BalanceAfter int            `json:"balance_after"`
	Description  string         `json:"description"`
	ExternalID   string         `json:"external_id"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

const (
	SubscriptionActive        = "active"
	SubscriptionInactive      = "inactive"
	SubscriptionCancelled     = "cancelled"
	SubscriptionPaymentFailed = "payment_failed"
	SubscriptionUnpaid        = "unpaid"
)

const (
	ProcessorLemonSqueezy = "lemonsqueezy"
	ProcessorPaddle       = "paddle"
)

const (
	LedgerManualAdjustment    = "manual_adjustment"
	LedgerSubscriptionCredit  = "subscription_credit"
	LedgerTranscriptGenerated = "transcript_generated"
	LedgerExportUsed          = "export_used"
)

const (
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanPlus    = "plus"
)
