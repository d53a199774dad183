package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
	"vtu-service/internal/services"
)

type PurchaseHandler struct {
	purchases *services.PurchaseService
	ledger    *ledger.Ledger
}

func NewPurchaseHandler(purchases *services.PurchaseService, l *ledger.Ledger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, ledger: l}
}

var failureStatus = map[string]int{
	models.ReasonInsufficientFunds:      http.StatusPaymentRequired,
	models.ReasonInvalidDestination:     http.StatusUnprocessableEntity,
	models.ReasonTemporarilyUnavailable: http.StatusServiceUnavailable,
}

func (h *PurchaseHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.purchases.Purchase(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.Status == models.StatusFailed {
		status = http.StatusUnprocessableEntity
		if s, ok := failureStatus[resp.Reason]; ok {
			status = s
		}
	}
	writeJSON(w, status, resp)
}

func (h *PurchaseHandler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "balance": balance})
}

func (h *PurchaseHandler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	txn, err := h.ledger.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err == nil && txn.UserID != userID {
		err = ledger.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
