package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"transcriptget/internal/models"
)

// Monthly credit grants per plan. Credits roll over; the plan only controls
// how many are granted per billing cycle.
var planCredits = map[string]int{
	models.PlanStarter: 100,
	models.PlanPro:     200,
	models.PlanPlus:    500,
}

func CreditsForPlan(plan string) (int, bool) {
	credits, ok := planCredits[plan]
	return credits, ok
}

// VerifySignature checks an HMAC-SHA256 hex digest over the raw webhook body.
// Both Lemon Squeezy and Paddle sign payloads this way.
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	digest := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(digest), []byte(signature))
}

// PlanIDs maps processor-side price/variant IDs to our plans.
type PlanIDs struct {
	Starter string
	Pro     string
	Plus    string
}

func (p PlanIDs) planForID(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	switch id {
	case p.Starter:
		return models.PlanStarter, true
	case p.Pro:
		return models.PlanPro, true
	case p.Plus:
		return models.PlanPlus, true
	}
	return "", false
}
