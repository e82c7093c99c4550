package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"transcriptget/internal/ai"
	"transcriptget/internal/billing"
	"transcriptget/internal/config"
	"transcriptget/internal/models"
	"transcriptget/internal/services"
	"transcriptget/internal/transcript"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Server struct {
	svc         *services.Service
	cfg         config.Config
	transcripts *transcript.Client
	ai          *ai.Client
	lemon       *billing.LemonSqueezyClient
	limiter     *ipLimiter
}

func NewServer(svc *services.Service, cfg config.Config) *Server {
	return &Server{
		svc:         svc,
		cfg:         cfg,
		transcripts: transcript.NewClient(cfg.TranscriptAPIKey),
		ai:          ai.NewClient(cfg.OpenAIAPIKey),
		lemon:       billing.NewLemonSqueezyClient(cfg.LemonSqueezyAPIKey, cfg.LemonSqueezyStoreID),
		limiter:     newIPLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst),
	}
}

func loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				reqID := middleware.GetReqID(r.Context())
				log.Printf("[ERROR] [%s] Panic recovered in %s %s: %v\n%s",
					reqID, r.Method, r.URL.Path, rvr, debug.Stack())

				if r.Header.Get("Connection") != "Upgrade" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					errMsg := fmt.Sprintf("internal server error: %v", rvr)
					_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Code: CodeInternal})
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			reqID := middleware.GetReqID(r.Context())
			log.Printf("[%s] %s %s %d %s",
				reqID, r.Method, r.URL.Path, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingRecoverer)
	r.Use(requestLogger)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/auth/google", s.handleGoogleLogin)
		r.Get("/auth/google/callback", s.handleGoogleCallback)

		r.Post("/webhooks/lemonsqueezy", s.handleLemonSqueezyWebhook)
		r.Post("/webhooks/paddle", s.handlePaddleWebhook)

		// Free endpoint, throttled per IP.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/translate", s.handleTranslate)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.jwtMiddleware)

			r.Get("/me", s.handleMe)
			r.Get("/me/ledger", s.handleListLedger)
			r.Post("/transcript/export", s.handleExport)
			r.Post("/billing/checkout", s.handleCreateCheckout)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/transcribe", s.handleTranscribe)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)

			r.Post("/grant-credits", s.handleAdminGrantCredits)
			r.Post("/grant-credits-user", s.handleAdminGrantCreditsUser)
		})
	})

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Admin-Secret")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Auth Handlers ==========

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("email and password are required"))
		return
	}
	if len(req.Password) < 8 {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("password must be at least 8 characters"))
		return
	}

	user, err := s.svc.CreateUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			respondError(w, http.StatusConflict, err)
			return
		}
		s.respondServiceError(w, r, err)
		return
	}

	token, err := s.generateJWT(user.ID, user.Email)
	if err != nil {
		respondCode(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userSnapshot(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("email and password are required"))
		return
	}

	user, err := s.svc.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			respondCode(w, http.StatusUnauthorized, CodeUnauthorized, err)
			return
		}
		s.respondServiceError(w, r, err)
		return
	}

	token, err := s.generateJWT(user.ID, user.Email)
	if err != nil {
		respondCode(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userSnapshot(user),
	})
}

func userSnapshot(user models.User) map[string]any {
	return map[string]any{
		"id":              user.ID,
		"email":           user.Email,
		"name":            user.Name,
		"credits_balance": user.CreditsBalance,
	}
}

// ========== Account Handlers ==========

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUserByID(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	var subscription map[string]any
	sub, err := s.svc.LatestSubscription(r.Context(), user.ID)
	switch {
	case err == nil:
		subscription = map[string]any{
			"id":                 sub.ID,
			"status":             sub.Status,
			"plan":               sub.Plan,
			"current_period_end": sub.CurrentPeriodEnd,
		}
	case errors.Is(err, services.ErrNotFound):
	default:
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":         userSnapshot(user),
		"subscription": subscription,
	})
}

func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListLedger(r.Context(), userIDFromContext(r.Context()), 50)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ========== Transcript Handlers ==========

type transcribeRequest struct {
	URL               string `json:"url"`
	IncludeTimestamps bool   `json:"include_timestamps"`
	WithMetadata      bool   `json:"with_metadata"`
	Polish            bool   `json:"polish"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	videoID, ok := transcript.ExtractVideoID(req.URL)
	if !ok {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("invalid YouTube URL"))
		return
	}
	if !s.transcripts.Configured() {
		respondError(w, http.StatusServiceUnavailable, errors.New("transcript service not configured"))
		return
	}

	userID := userIDFromContext(r.Context())

	// One charge per (user, video). Repeat requests for the same video hit
	// the existing ledger row and are free.
	entry, charged, err := s.svc.ApplyCredit(r.Context(), services.ApplyCreditParams{
		UserID:      userID,
		Amount:      -1,
		ExternalID:  fmt.Sprintf("transcript_%d_%s", userID, videoID),
		Type:        models.LedgerTranscriptGenerated,
		Description: "Transcript for video " + videoID,
		Metadata:    map[string]any{"video_id": videoID},
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	log.Printf("[INFO] [%s] Transcribe video=%s user=%d charged=%v balance=%d",
		reqID, videoID, userID, charged, entry.BalanceAfter)

	result, err := s.transcripts.Fetch(r.Context(), req.URL)
	if err != nil {
		var upstream *transcript.UpstreamError
		if errors.As(err, &upstream) {
			log.Printf("[ERROR] [%s] Transcript upstream %d: %s", reqID, upstream.Status, upstream.Message)
			respondJSON(w, http.StatusBadGateway, ErrorResponse{
				Error:  upstream.Message,
				Code:   CodeUpstreamError,
				Detail: upstream.Detail,
			})
			return
		}
		log.Printf("[ERROR] [%s] Transcript fetch failed: %v", reqID, err)
		respondCode(w, http.StatusBadGateway, CodeUpstreamError, err)
		return
	}

	polished := false
	if req.Polish && s.ai.Configured() && len(result.Segments) > 0 {
		texts := make([]string, len(result.Segments))
		for i, seg := range result.Segments {
			texts[i] = seg.Text
		}
		improved, polishErr := s.ai.PolishSegments(r.Context(), texts)
		if polishErr != nil {
			// Best effort. Return the raw transcript rather than failing.
			log.Printf("[ERROR] [%s] Polish failed, returning raw transcript: %v", reqID, polishErr)
		} else {
			for i := range result.Segments {
				result.Segments[i].Text = improved[i]
			}
			result.Text = strings.Join(improved, " ")
			polished = true
		}
	}

	payload := map[string]any{
		"video_id": result.VideoID,
		"language": result.Language,
		"text":     result.Text,
		"charged":  charged,
		"polished": polished,
	}
	if req.IncludeTimestamps {
		payload["segments"] = result.Segments
	}
	if req.WithMetadata && result.Metadata != nil {
		payload["metadata"] = result.Metadata
	}
	respondJSON(w, http.StatusOK, payload)
}

type exportRequest struct {
	Format  string          `json:"format"`
	Content string          `json:"content"`
	Title   string          `json:"title"`
	Extra   json.RawMessage `json:"metadata"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if req.Format != "txt" && req.Format != "json" {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("format must be txt or json"))
		return
	}
	if req.Content == "" {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("content is required"))
		return
	}

	userID := userIDFromContext(r.Context())
	active, err := s.svc.HasActiveSubscription(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if !active {
		respondCode(w, http.StatusForbidden, CodeSubscriptionInactive, errors.New("an active subscription is required to export transcripts"))
		return
	}

	_, _, err = s.svc.ApplyCredit(r.Context(), services.ApplyCreditParams{
		UserID:      userID,
		Amount:      -1,
		ExternalID:  "export_" + uuid.NewString(),
		Type:        models.LedgerExportUsed,
		Description: "Transcript export (" + req.Format + ")",
		Metadata:    map[string]any{"format": req.Format},
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	filename := sanitizeFilename(req.Title)
	if filename == "" {
		filename = "transcript"
	}
	contentType := "text/plain; charset=utf-8"
	if req.Format == "json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+"."+req.Format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(req.Content))
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// ========== Translate Handler ==========

type translateRequest struct {
	Segments   []string `json:"segments"`
	TargetLang string   `json:"target_lang"`
	SourceLang string   `json:"source_lang"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if !s.ai.Configured() {
		respondCode(w, http.StatusNotImplemented, CodeTranslationNotConfigured, errors.New("translation service not configured"))
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if len(req.Segments) == 0 {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("segments are required"))
		return
	}
	if !ai.SupportedTargetLang(req.TargetLang) {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("unsupported target language"))
		return
	}

	translated, err := s.ai.TranslateSegments(r.Context(), req.Segments, req.TargetLang, req.SourceLang)
	if err != nil {
		if errors.Is(err, ai.ErrUpstream) {
			respondCode(w, http.StatusBadGateway, CodeUpstreamError, err)
			return
		}
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"segments":    translated,
		"target_lang": strings.ToUpper(req.TargetLang),
	})
}

// ========== Billing Handlers ==========

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	if !s.lemon.Configured() {
		respondError(w, http.StatusServiceUnavailable, errors.New("billing not configured"))
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	variantID, err := s.variantForPlan(req.Plan)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}

	userID := userIDFromContext(r.Context())
	email := emailFromContext(r.Context())
	log.Printf("[INFO] [%s] Creating checkout: user=%d plan=%s", reqID, userID, req.Plan)

	checkoutURL, err := s.lemon.CreateCheckout(r.Context(), variantID, email, userID, req.Plan, s.cfg.SiteURL+"/billing/success")
	if err != nil {
		log.Printf("[ERROR] [%s] Checkout creation failed: %v", reqID, err)
		respondCode(w, http.StatusBadGateway, CodeUpstreamError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"plan":         req.Plan,
		"checkout_url": checkoutURL,
	})
}

func (s *Server) variantForPlan(plan string) (string, error) {
	var id string
	switch plan {
	case models.PlanStarter:
		id = s.cfg.LemonSqueezyVariantIDs.Starter
	case models.PlanPro:
		id = s.cfg.LemonSqueezyVariantIDs.Pro
	case models.PlanPlus:
		id = s.cfg.LemonSqueezyVariantIDs.Plus
	default:
		return "", errors.New("unknown plan")
	}
	if id == "" {
		return "", fmt.Errorf("no variant configured for plan %s", plan)
	}
	return id, nil
}

// ========== Admin Handlers ==========

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminSecret == "" {
			respondError(w, http.StatusServiceUnavailable, errors.New("admin secret not configured"))
			return
		}
		secret := r.Header.Get("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
			respondCode(w, http.StatusUnauthorized, CodeUnauthorized, errors.New("invalid admin secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminGrantRequest struct {
	Amount int    `json:"amount"`
	RunID  string `json:"run_id"`
	Email  string `json:"email"`
}

const (
	defaultGrantAmount = 5
	maxGrantAmount     = 1000
)

func (s *Server) handleAdminGrantCredits(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	amount, err := grantAmount(req.Amount)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = time.Now().UTC().Format("2006-01-02")
	}

	log.Printf("[INFO] [%s] Admin grant: amount=%d run=%s", reqID, amount, runID)
	result, err := s.svc.GrantToAllUsers(r.Context(), amount, runID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"amount":      amount,
		"users_total": result.UsersTotal,
		"granted":     result.Granted,
		"skipped":     result.Skipped,
	})
}

func (s *Server) handleAdminGrantCreditsUser(w http.ResponseWriter, r *http.Request) {
	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	if req.Email == "" {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("email is required"))
		return
	}
	amount, err := grantAmount(req.Amount)
	if err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	user, err := s.svc.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	entry, applied, err := s.svc.ApplyCredit(r.Context(), services.ApplyCreditParams{
		UserID:      user.ID,
		Amount:      amount,
		ExternalID:  fmt.Sprintf("admin_grant_%s_%d", runID, user.ID),
		Type:        models.LedgerManualAdjustment,
		Description: "Admin credit grant",
		Metadata:    map[string]any{"run_id": runID},
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       user.ID,
		"amount":        amount,
		"applied":       applied,
		"balance_after": entry.BalanceAfter,
	})
}

func grantAmount(amount int) (int, error) {
	if amount == 0 {
		return defaultGrantAmount, nil
	}
	if amount < 1 || amount > maxGrantAmount {
		return 0, fmt.Errorf("amount must be between 1 and %d", maxGrantAmount)
	}
	return amount, nil
}

// ========== Error Mapping ==========

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondCode(w, http.StatusNotFound, CodeNotFound, err)
	case errors.Is(err, services.ErrInvalidRequest):
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, err)
	case errors.Is(err, services.ErrOutOfCredits):
		respondCode(w, http.StatusPaymentRequired, CodeOutOfCredits, err)
	case errors.Is(err, services.ErrSubscriptionInactive):
		respondCode(w, http.StatusForbidden, CodeSubscriptionInactive, err)
	case errors.Is(err, services.ErrEmailTaken):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, services.ErrInvalidCredentials):
		respondCode(w, http.StatusUnauthorized, CodeUnauthorized, err)
	default:
		reqID := ""
		if r != nil {
			reqID = middleware.GetReqID(r.Context())
		}
		log.Printf("[ERROR] [%s] Internal server error: %v", reqID, err)
		respondCode(w, http.StatusInternalServerError, CodeInternal, err)
	}
}
