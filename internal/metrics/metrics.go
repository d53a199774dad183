package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VendorAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_attempts_total",
		Help: "Vendor purchase attempts by outcome (success, transient, rejected)",
	}, []string{"vendor", "outcome"})
	VendorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendor_latency_seconds",
		Help:    "Vendor purchase call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"vendor"})
	VendorHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vendor_healthy",
		Help: "1 if the vendor is eligible for routing",
	}, []string{"vendor"})
	VendorBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vendor_balance_kobo",
		Help: "Last probed vendor float balance",
	}, []string{"vendor"})
	NoCapacity = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_no_capacity_total",
		Help: "Purchases that found no vendor able to fulfil them",
	}, []string{"service"})
	Purchases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_total",
		Help: "Purchases by final status",
	}, []string{"service", "status"})
	Credits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_reconciliations_total",
		Help: "Funding reconciliations by source and outcome",
	}, []string{"source", "outcome"})
	DLQCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verify_dlq_messages_total",
		Help: "Verification jobs moved to the dead-letter list",
	})
	InvalidSignatures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_invalid_signatures_total",
		Help: "Webhooks rejected for a bad signature",
	})
)

func init() {
	prometheus.MustRegister(
		VendorAttempts, VendorLatency, VendorHealthy, VendorBalance,
		NoCapacity, Purchases, Credits, DLQCount, InvalidSignatures,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
