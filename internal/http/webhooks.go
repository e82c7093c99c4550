package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"transcriptget/internal/billing"
	"transcriptget/internal/models"
	"transcriptget/internal/services"

	"github.com/go-chi/chi/v5/middleware"
)

// Webhook handlers acknowledge everything they cannot act on (unknown event
// types, users or plans we cannot map) with 200 so the processor stops
// retrying, and return 5xx only for failures worth a retry. Credit grants go
// through ApplyCredit with an event-derived external id, so redelivery of the
// same event is a no-op.

func (s *Server) handleLemonSqueezyWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	if s.cfg.LemonSqueezyWebhookSecret == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("lemon squeezy webhook secret not configured"))
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if !billing.VerifySignature(payload, r.Header.Get("X-Signature"), s.cfg.LemonSqueezyWebhookSecret) {
		respondCode(w, http.StatusUnauthorized, CodeUnauthorized, errors.New("invalid webhook signature"))
		return
	}

	event, err := billing.ParseLemonSqueezyEvent(payload)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}

	switch billing.CanonicalLemonSqueezyEvent(event.Meta.EventName) {
	case "subscription_created":
		err = s.processLemonSubscriptionCreated(r.Context(), reqID, event)
	case "subscription_updated":
		err = s.updateLemonStatus(r.Context(), reqID, event.Data.ID, billing.NormalizeLemonSqueezyStatus(event.Data.Attributes.Status))
	case "subscription_payment_success":
		err = s.processLemonPaymentSuccess(r.Context(), reqID, event)
	case "subscription_payment_failed":
		err = s.updateLemonStatus(r.Context(), reqID, lemonSubID(event), models.SubscriptionPaymentFailed)
	case "subscription_cancelled":
		err = s.updateLemonStatus(r.Context(), reqID, event.Data.ID, models.SubscriptionCancelled)
	default:
		log.Printf("[INFO] [%s] Ignoring lemon squeezy event %q", reqID, event.Meta.EventName)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// lemonSubID returns the subscription id a payment event points at. Payment
// events carry a subscription-invoice object, so the subscription id lives in
// the attributes rather than in data.id.
func lemonSubID(event billing.LemonSqueezyEvent) string {
	if event.Data.Attributes.SubscriptionID != 0 {
		return strconv.FormatInt(event.Data.Attributes.SubscriptionID, 10)
	}
	return event.Data.ID
}

func (s *Server) lemonPlanIDs() billing.PlanIDs {
	return billing.PlanIDs{
		Starter: s.cfg.LemonSqueezyVariantIDs.Starter,
		Pro:     s.cfg.LemonSqueezyVariantIDs.Pro,
		Plus:    s.cfg.LemonSqueezyVariantIDs.Plus,
	}
}

func (s *Server) paddlePlanIDs() billing.PlanIDs {
	return billing.PlanIDs{
		Starter: s.cfg.PaddlePriceIDs.Starter,
		Pro:     s.cfg.PaddlePriceIDs.Pro,
		Plus:    s.cfg.PaddlePriceIDs.Plus,
	}
}

// resolveLemonUser finds the user a checkout belongs to: the user_id we
// attached as custom data at checkout time, falling back to the buyer email.
func (s *Server) resolveLemonUser(ctx context.Context, event billing.LemonSqueezyEvent) (models.User, error) {
	if raw := event.CustomString("user_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			user, err := s.svc.GetUserByID(ctx, id)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, services.ErrNotFound) {
				return models.User{}, err
			}
		}
	}
	if email := event.Data.Attributes.UserEmail; email != "" {
		return s.svc.GetUserByEmail(ctx, email)
	}
	return models.User{}, services.ErrNotFound
}

func (s *Server) processLemonSubscriptionCreated(ctx context.Context, reqID string, event billing.LemonSqueezyEvent) error {
	attrs := event.Data.Attributes
	user, err := s.resolveLemonUser(ctx, event)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Lemon subscription %s for unknown user %q, acknowledging", reqID, event.Data.ID, attrs.UserEmail)
		return nil
	}
	if err != nil {
		return err
	}

	plan, ok := billing.PlanForVariant(s.lemonPlanIDs(), strconv.FormatInt(attrs.VariantID, 10), attrs.VariantName)
	if !ok {
		log.Printf("[INFO] [%s] Lemon subscription %s has unmapped variant %d (%s), acknowledging", reqID, event.Data.ID, attrs.VariantID, attrs.VariantName)
		return nil
	}

	status := billing.NormalizeLemonSqueezyStatus(attrs.Status)
	if attrs.Status == "" {
		status = models.SubscriptionActive
	}
	_, err = s.svc.UpsertSubscription(ctx, models.Subscription{
		UserID:                  user.ID,
		Status:                  status,
		Plan:                    plan,
		CurrentPeriodEnd:        attrs.RenewsAt,
		Processor:               models.ProcessorLemonSqueezy,
		ProcessorSubscriptionID: event.Data.ID,
		ProcessorCustomerID:     strconv.FormatInt(attrs.CustomerID, 10),
		ProcessorOrderID:        strconv.FormatInt(attrs.OrderID, 10),
	})
	if err != nil {
		return err
	}

	credits, _ := billing.CreditsForPlan(plan)
	_, applied, err := s.svc.ApplyCredit(ctx, services.ApplyCreditParams{
		UserID:      user.ID,
		Amount:      credits,
		ExternalID:  "ls_subscription_created_" + event.Data.ID + "_" + event.Meta.EventID,
		Type:        models.LedgerSubscriptionCredit,
		Description: "Subscription credits (" + plan + ")",
		Metadata:    map[string]any{"processor": models.ProcessorLemonSqueezy, "subscription_id": event.Data.ID, "plan": plan},
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] [%s] Lemon subscription %s: user=%d plan=%s credits=%d applied=%v",
		reqID, event.Data.ID, user.ID, plan, credits, applied)
	return nil
}

func (s *Server) processLemonPaymentSuccess(ctx context.Context, reqID string, event billing.LemonSqueezyEvent) error {
	subID := lemonSubID(event)
	sub, err := s.svc.GetSubscriptionByProcessorID(ctx, models.ProcessorLemonSqueezy, subID)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Payment for unknown lemon subscription %s, acknowledging", reqID, subID)
		return nil
	}
	if err != nil {
		return err
	}

	if renews := event.Data.Attributes.RenewsAt; renews != nil {
		sub.CurrentPeriodEnd = renews
		sub.Status = models.SubscriptionActive
		if _, err := s.svc.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
	}

	credits, ok := billing.CreditsForPlan(sub.Plan)
	if !ok {
		log.Printf("[INFO] [%s] Payment for lemon subscription %s with unmapped plan %q, acknowledging", reqID, subID, sub.Plan)
		return nil
	}

	invoiceID := event.Data.ID
	if invoiceID == "" {
		invoiceID = event.Meta.EventID
	}
	_, applied, err := s.svc.ApplyCredit(ctx, services.ApplyCreditParams{
		UserID:      sub.UserID,
		Amount:      credits,
		ExternalID:  "ls_payment_" + subID + "_" + invoiceID,
		Type:        models.LedgerSubscriptionCredit,
		Description: "Subscription renewal credits (" + sub.Plan + ")",
		Metadata:    map[string]any{"processor": models.ProcessorLemonSqueezy, "subscription_id": subID, "invoice_id": invoiceID},
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] [%s] Lemon renewal %s: user=%d credits=%d applied=%v", reqID, subID, sub.UserID, credits, applied)
	return nil
}

func (s *Server) updateLemonStatus(ctx context.Context, reqID, subID, status string) error {
	err := s.svc.UpdateSubscriptionStatus(ctx, models.ProcessorLemonSqueezy, subID, status)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Status update for unknown lemon subscription %s, acknowledging", reqID, subID)
		return nil
	}
	return err
}

func (s *Server) handlePaddleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	if s.cfg.PaddleWebhookSecret == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("paddle webhook secret not configured"))
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if !billing.VerifySignature(payload, r.Header.Get("Paddle-Signature"), s.cfg.PaddleWebhookSecret) {
		respondCode(w, http.StatusUnauthorized, CodeUnauthorized, errors.New("invalid webhook signature"))
		return
	}

	event, err := billing.ParsePaddleEvent(payload)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}

	switch event.EventType {
	case "transaction.completed":
		err = s.processPaddleTransaction(r.Context(), reqID, event)
	case "subscription.created", "subscription.updated":
		err = s.processPaddleSubscription(r.Context(), reqID, event)
	case "subscription.canceled", "subscription.cancelled":
		err = s.updatePaddleStatus(r.Context(), reqID, event.Data.ID, models.SubscriptionCancelled)
	default:
		log.Printf("[INFO] [%s] Ignoring paddle event %q", reqID, event.EventType)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) resolvePaddleUser(ctx context.Context, data billing.PaddleEventData) (models.User, error) {
	if raw, ok := data.CustomData["user_id"].(string); ok && raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			user, err := s.svc.GetUserByID(ctx, id)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, services.ErrNotFound) {
				return models.User{}, err
			}
		}
	}
	if email := data.UserEmail(); email != "" {
		return s.svc.GetUserByEmail(ctx, email)
	}
	return models.User{}, services.ErrNotFound
}

func (s *Server) processPaddleTransaction(ctx context.Context, reqID string, event billing.PaddleEvent) error {
	data := event.Data
	user, err := s.resolvePaddleUser(ctx, data)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Paddle transaction %s for unknown user %q, acknowledging", reqID, data.ID, data.UserEmail())
		return nil
	}
	if err != nil {
		return err
	}

	plan, ok := billing.PlanFromPaddleData(s.paddlePlanIDs(), data)
	if !ok {
		log.Printf("[INFO] [%s] Paddle transaction %s has no mappable plan, acknowledging", reqID, data.ID)
		return nil
	}

	if data.SubscriptionID != "" {
		_, err = s.svc.UpsertSubscription(ctx, models.Subscription{
			UserID:                  user.ID,
			Status:                  models.SubscriptionActive,
			Plan:                    plan,
			Processor:               models.ProcessorPaddle,
			ProcessorSubscriptionID: data.SubscriptionID,
			ProcessorCustomerID:     data.CustomerID,
			ProcessorOrderID:        data.ID,
		})
		if err != nil {
			return err
		}
	}

	credits, _ := billing.CreditsForPlan(plan)
	_, applied, err := s.svc.ApplyCredit(ctx, services.ApplyCreditParams{
		UserID:      user.ID,
		Amount:      credits,
		ExternalID:  "paddle_transaction_" + data.ID,
		Type:        models.LedgerSubscriptionCredit,
		Description: "Subscription credits (" + plan + ")",
		Metadata:    map[string]any{"processor": models.ProcessorPaddle, "transaction_id": data.ID, "plan": plan},
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] [%s] Paddle transaction %s: user=%d plan=%s credits=%d applied=%v",
		reqID, data.ID, user.ID, plan, credits, applied)
	return nil
}

// processPaddleSubscription keeps the subscription row in step with Paddle
// lifecycle events. Credits are granted on transaction.completed only.
func (s *Server) processPaddleSubscription(ctx context.Context, reqID string, event billing.PaddleEvent) error {
	data := event.Data
	status := billing.NormalizePaddleStatus(data.Status)
	if status == "" {
		status = models.SubscriptionActive
	}

	if event.EventType == "subscription.updated" {
		err := s.svc.UpdateSubscriptionStatus(ctx, models.ProcessorPaddle, data.ID, status)
		if err == nil || !errors.Is(err, services.ErrNotFound) {
			return err
		}
		// Fall through and create the row if we never saw the create event.
	}

	user, err := s.resolvePaddleUser(ctx, data)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Paddle subscription %s for unknown user, acknowledging", reqID, data.ID)
		return nil
	}
	if err != nil {
		return err
	}

	plan, ok := billing.PlanFromPaddleData(s.paddlePlanIDs(), data)
	if !ok {
		log.Printf("[INFO] [%s] Paddle subscription %s has no mappable plan, acknowledging", reqID, data.ID)
		return nil
	}

	_, err = s.svc.UpsertSubscription(ctx, models.Subscription{
		UserID:                  user.ID,
		Status:                  status,
		Plan:                    plan,
		Processor:               models.ProcessorPaddle,
		ProcessorSubscriptionID: data.ID,
		ProcessorCustomerID:     data.CustomerID,
	})
	return err
}

func (s *Server) updatePaddleStatus(ctx context.Context, reqID, subID, status string) error {
	err := s.svc.UpdateSubscriptionStatus(ctx, models.ProcessorPaddle, subID, status)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[INFO] [%s] Status update for unknown paddle subscription %s, acknowledging", reqID, subID)
		return nil
	}
	return err
}
