package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
	"vtu-service/internal/pricing"
	"vtu-service/internal/services"
	"vtu-service/internal/vendors"
)

// UserHeader carries the caller's identity, set by the authenticating proxy.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, code, message string, statusCode int) {
	if code == "" {
		code = http.StatusText(statusCode)
	}
	writeJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case services.IsValidation(err):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrInvalidPin):
		writeJSONError(w, models.ReasonInvalidPin, "authorization pin is incorrect", http.StatusForbidden)
	case errors.Is(err, pricing.ErrNoPrice):
		writeJSONError(w, models.ReasonNoPrice, "this service is not priced", http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrDuplicateReference):
		writeJSONError(w, "duplicate_reference", "reference has already been used", http.StatusConflict)
	case errors.Is(err, ledger.ErrUserNotFound):
		writeJSONError(w, "", "user not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrNotFound):
		writeJSONError(w, "", "transaction not found", http.StatusNotFound)
	case errors.Is(err, vendors.ErrUnknownVendor):
		writeJSONError(w, "", "vendor not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeJSONError(w, "", "internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, "invalid_request", "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// requireUser returns the caller id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeJSONError(w, "", "missing "+UserHeader, http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
