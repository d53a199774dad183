package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"

	"vtu-service/internal/config"
	"vtu-service/internal/metrics"
	"vtu-service/internal/models"
	"vtu-service/internal/vendors"
)

// HealthMonitor probes every enabled vendor's balance on a fixed interval and
// writes the result back to the pool.
type HealthMonitor struct {
	pool     *vendors.Pool
	cfg      *config.Config
	clock    clockz.Clock
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewHealthMonitor(pool *vendors.Pool, cfg *config.Config, clock clockz.Clock) *HealthMonitor {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &HealthMonitor{
		pool:     pool,
		cfg:      cfg,
		clock:    clock,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *HealthMonitor) Start() {
	// Initial health check
	h.ProbeAll(context.Background())

	interval := h.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := h.clock.NewTicker(interval)
	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				h.ProbeAll(context.Background())
			case <-h.stopChan:
				return
			}
		}
	}()
}

func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
	<-h.done
}

// ProbeAll checks every enabled vendor concurrently and returns the updated states.
func (h *HealthMonitor) ProbeAll(ctx context.Context) []models.VendorConfig {
	snapshot := h.pool.Snapshot()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []models.VendorConfig
	)
	for _, v := range snapshot {
		if !v.Enabled {
			continue
		}
		wg.Add(1)
		go func(v models.VendorConfig) {
			defer wg.Done()
			updated, err := h.Probe(ctx, v.ID)
			if err != nil {
				log.Error().Err(err).Str("vendor", v.ID).Msg("Error recording vendor probe")
				return
			}
			mu.Lock()
			out = append(out, updated)
			mu.Unlock()
		}(v)
	}
	wg.Wait()
	return out
}

// Probe fetches one vendor's balance under the health check timeout.
func (h *HealthMonitor) Probe(ctx context.Context, vendorID string) (models.VendorConfig, error) {
	adapter, err := h.pool.Adapter(vendorID)
	if err != nil {
		return models.VendorConfig{}, err
	}

	probeCtx := ctx
	if h.cfg.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = h.clock.WithTimeout(ctx, h.cfg.HealthCheckTimeout)
		defer cancel()
	}

	balance, probeErr := adapter.Balance(probeCtx)
	if probeErr != nil {
		log.Warn().Err(probeErr).Str("vendor", vendorID).Msg("Vendor health probe failed")
	}

	updated, err := h.pool.RecordProbe(vendorID, balance, probeErr, h.cfg.FailureThreshold, h.clock.Now())
	if err != nil {
		return models.VendorConfig{}, err
	}

	metrics.VendorHealthy.WithLabelValues(vendorID).Set(boolGauge(updated.Healthy))
	if probeErr == nil {
		metrics.VendorBalance.WithLabelValues(vendorID).Set(float64(updated.CachedBalance))
	}
	return updated, nil
}
