package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"vtu-service/internal/gateway"
	"vtu-service/internal/models"
	"vtu-service/internal/services"
)

type FundingHandler struct {
	fundings   *services.FundingService
	reconciler *services.PaymentReconciler
}

func NewFundingHandler(fundings *services.FundingService, reconciler *services.PaymentReconciler) *FundingHandler {
	return &FundingHandler{fundings: fundings, reconciler: reconciler}
}

func (h *FundingHandler) HandleFund(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.FundingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.fundings.Fund(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *FundingHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	resp, err := h.fundings.Verify(r.Context(), userID, chi.URLParam(r, "reference"))
	if err != nil {
		if gateway.IsUnavailable(err) {
			writeJSONError(w, models.ReasonTemporarilyUnavailable, "payment gateway is unavailable, try again later", http.StatusServiceUnavailable)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleWebhook reads the raw body untouched, since the signature covers its
// exact bytes.
func (h *FundingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, "", "error reading request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.reconciler.HandleWebhook(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		log.Warn().Str("remote", r.RemoteAddr).Msg("Webhook rejected: invalid signature")
		writeJSONError(w, "invalid_signature", "signature mismatch", http.StatusUnauthorized)
	case errors.Is(err, services.ErrMalformedWebhook):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case err != nil:
		// A 5xx makes the gateway deliver the event again.
		log.Error().Err(err).Msg("Error handling webhook")
		writeJSONError(w, "", "webhook could not be processed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
	}
}
