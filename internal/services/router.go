package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"vtu-service/internal/config"
	"vtu-service/internal/metrics"
	"vtu-service/internal/models"
	"vtu-service/internal/vendors"
)

// NoCapacityError means every eligible vendor failed transiently, or none was
// eligible. The caller should try again later rather than change the request.
type NoCapacityError struct {
	ServiceType models.ServiceType
	Attempted   []string
}

func (e *NoCapacityError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("no vendor available for %s", e.ServiceType)
	}
	return fmt.Sprintf("no vendor could fulfil %s (tried %s)", e.ServiceType, strings.Join(e.Attempted, ", "))
}

type RouteRequest struct {
	ServiceType  models.ServiceType
	Params       vendors.Params
	SellingPrice int64
	// CostPrice is what the vendor charges and what is sent as the purchase amount.
	CostPrice int64
}

type Attempt struct {
	VendorID string `json:"vendorId"`
	Error    string `json:"error,omitempty"`
}

type Fulfillment struct {
	VendorID string
	Result   vendors.PurchaseResult
	Attempts []Attempt
}

type VendorRouter struct {
	pool *vendors.Pool
	cfg  *config.Config
}

func NewVendorRouter(pool *vendors.Pool, cfg *config.Config) *VendorRouter {
	return &VendorRouter{pool: pool, cfg: cfg}
}

// Candidates returns the vendors eligible for a purchase in the order they will
// be tried.
func (r *VendorRouter) Candidates(service models.ServiceType, costPrice int64) []models.VendorConfig {
	var out []models.VendorConfig
	for _, v := range r.pool.Snapshot() {
		if !v.Enabled || !v.Supports(service) || !v.Healthy {
			continue
		}
		// The cached float is advisory. A vendor that has never been probed is
		// kept, the vendor's own purchase call is the authoritative check.
		if !v.Postpaid && !v.LastHealthCheck.IsZero() && v.CachedBalance < costPrice {
			continue
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Failures != b.Failures {
			return a.Failures < b.Failures
		}
		if !a.LastHealthCheck.Equal(b.LastHealthCheck) {
			return a.LastHealthCheck.After(b.LastHealthCheck)
		}
		return a.ID < b.ID
	})
	return out
}

// Route tries candidates one at a time until one fulfils the purchase.
//
// A rejection stops the loop and is returned as is. Transient failures count
// against the vendor and move on to the next candidate. ctx is only honoured
// until the first vendor call goes out; from then on every call runs to
// completion under its own timeout.
func (r *VendorRouter) Route(ctx context.Context, req RouteRequest) (Fulfillment, error) {
	if err := ctx.Err(); err != nil {
		return Fulfillment{}, err
	}

	candidates := r.Candidates(req.ServiceType, req.CostPrice)
	if len(candidates) == 0 {
		metrics.NoCapacity.WithLabelValues(string(req.ServiceType)).Inc()
		return Fulfillment{}, &NoCapacityError{ServiceType: req.ServiceType}
	}

	detached := context.WithoutCancel(ctx)
	var f Fulfillment
	for _, v := range candidates {
		adapter, err := r.pool.Adapter(v.ID)
		if err != nil {
			// removed by a reload since the snapshot
			continue
		}

		result, err := r.call(detached, v.ID, adapter, req)
		if err == nil {
			f.VendorID = v.ID
			f.Result = result
			f.Attempts = append(f.Attempts, Attempt{VendorID: v.ID})
			return f, nil
		}
		f.Attempts = append(f.Attempts, Attempt{VendorID: v.ID, Error: err.Error()})

		if vendors.IsRejected(err) {
			log.Info().Str("vendor", v.ID).Str("reference", req.Params.Reference).Err(err).Msg("Purchase rejected by vendor")
			return f, err
		}

		updated, recErr := r.pool.RecordFailure(v.ID, r.cfg.FailureThreshold)
		if recErr != nil {
			log.Warn().Err(recErr).Str("vendor", v.ID).Msg("failed to record vendor failure")
		}
		metrics.VendorHealthy.WithLabelValues(v.ID).Set(boolGauge(updated.Healthy))
		log.Warn().Str("vendor", v.ID).Str("reference", req.Params.Reference).Int("failures", updated.Failures).Err(err).Msg("Vendor failed, trying next")
	}

	metrics.NoCapacity.WithLabelValues(string(req.ServiceType)).Inc()
	attempted := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		attempted[i] = a.VendorID
	}
	return f, &NoCapacityError{ServiceType: req.ServiceType, Attempted: attempted}
}

func (r *VendorRouter) call(ctx context.Context, vendorID string, adapter vendors.Adapter, req RouteRequest) (vendors.PurchaseResult, error) {
	if r.cfg.VendorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.VendorTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := adapter.Purchase(ctx, req.ServiceType, req.Params, req.CostPrice)
	metrics.VendorLatency.WithLabelValues(vendorID).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case err == nil:
	case vendors.IsRejected(err):
		outcome = "rejected"
	default:
		outcome = "transient"
	}
	metrics.VendorAttempts.WithLabelValues(vendorID, outcome).Inc()
	return result, err
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
