package httpapi

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable error codes surfaced to API clients.
const (
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeInvalidInput             = "INVALID_INPUT"
	CodeNotFound                 = "NOT_FOUND"
	CodeOutOfCredits             = "OUT_OF_CREDITS"
	CodeSubscriptionInactive     = "SUBSCRIPTION_INACTIVE"
	CodeUpstreamError            = "UPSTREAM_ERROR"
	CodeTranslationNotConfigured = "TRANSLATION_NOT_CONFIGURED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeInternal                 = "INTERNAL"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Detail carries the upstream response body on UPSTREAM_ERROR for
	// diagnostics.
	Detail json.RawMessage `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

func respondCode(w http.ResponseWriter, status int, code string, err error) {
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
