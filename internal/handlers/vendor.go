package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vtu-service/internal/models"
	"vtu-service/internal/pricing"
	"vtu-service/internal/services"
	"vtu-service/internal/vendors"
)

type VendorHandler struct {
	pool     *vendors.Pool
	catalog  *services.CatalogService
	resolver *pricing.Resolver
	timeout  time.Duration
}

func NewVendorHandler(pool *vendors.Pool, catalog *services.CatalogService, resolver *pricing.Resolver, timeout time.Duration) *VendorHandler {
	return &VendorHandler{pool: pool, catalog: catalog, resolver: resolver, timeout: timeout}
}

func (h *VendorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Snapshot())
}

func (h *VendorHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Reload(); err != nil {
		writeJSONError(w, "invalid_catalog", err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, h.pool.Snapshot())
}

type quoteResponse struct {
	VendorID     string             `json:"vendorId"`
	ServiceType  models.ServiceType `json:"serviceType"`
	CostPrice    int64              `json:"costPrice"`
	SellingPrice *int64             `json:"sellingPrice,omitempty"`
}

// HandleQuote asks one vendor for its current price and shows what we would
// charge for it.
func (h *VendorHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")
	q := r.URL.Query()

	service, err := models.ParseServiceType(q.Get("serviceType"))
	if err != nil {
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	var amount int64
	if raw := q.Get("amount"); raw != "" {
		if amount, err = strconv.ParseInt(raw, 10, 64); err != nil || amount < 0 {
			writeJSONError(w, "invalid_request", "amount must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	adapter, err := h.pool.Adapter(vendorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	params := vendors.Params{Network: q.Get("network"), PlanID: q.Get("planId")}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	cost, err := adapter.Quote(ctx, service, params)
	if err != nil {
		status := http.StatusBadGateway
		if vendors.IsRejected(err) {
			status = http.StatusUnprocessableEntity
		}
		writeJSONError(w, "quote_failed", err.Error(), status)
		return
	}

	resp := quoteResponse{VendorID: vendorID, ServiceType: service, CostPrice: cost}
	if amount == 0 {
		amount = cost
	}
	if quote, err := h.resolver.Resolve(pricing.Request{ServiceType: service, Network: params.Network, PlanID: params.PlanID, Amount: amount}); err == nil {
		resp.SellingPrice = &quote.SellingPrice
	}
	writeJSON(w, http.StatusOK, resp)
}
