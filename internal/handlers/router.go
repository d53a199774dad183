package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vtu-service/internal/metrics"
)

func NewRouter(purchases *PurchaseHandler, fundings *FundingHandler, vendors *VendorHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhooks/paystack", fundings.HandleWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/purchases", purchases.HandlePurchase)
		r.Get("/wallet", purchases.HandleWallet)
		r.Get("/transactions/{reference}", purchases.HandleTransaction)

		r.Post("/fundings", fundings.HandleFund)
		r.Post("/fundings/{reference}/verify", fundings.HandleVerify)

		r.Get("/vendors", vendors.HandleList)
		r.Post("/vendors/reload", vendors.HandleReload)
		r.Get("/vendors/{id}/quote", vendors.HandleQuote)
	})
	return r
}
