package vendors

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vtu-service/internal/models"
)

// Pool is the live vendor directory shared by the router and the health monitor.
// Each vendor row has its own lock so a probe result and a failed purchase on the
// same vendor serialize instead of overwriting each other.
type Pool struct {
	registry *Registry

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	cfg     models.VendorConfig
	adapter Adapter
	// retired is set once a reload has copied this entry's state into its
	// replacement. Writers must not touch a retired entry.
	retired bool
}

func NewPool(registry *Registry, configs []models.VendorConfig) (*Pool, error) {
	p := &Pool{registry: registry, entries: map[string]*entry{}}
	if err := p.Reload(configs); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload replaces the vendor set. Vendors that keep their id and adapter keep their
// health state; new vendors start healthy and unprobed. On error the pool is unchanged.
func (p *Pool) Reload(configs []models.VendorConfig) error {
	next := make(map[string]*entry, len(configs))
	for _, cfg := range configs {
		if _, dup := next[cfg.ID]; dup {
			return fmt.Errorf("duplicate vendor id %q", cfg.ID)
		}
		adapter, err := p.registry.New(cfg)
		if err != nil {
			return err
		}
		cfg.Capabilities = models.CapabilityOf(cfg.Services...)
		cfg.Healthy = true
		cfg.Failures = 0
		cfg.CachedBalance = 0
		cfg.LastHealthCheck = time.Time{}
		next[cfg.ID] = &entry{cfg: cfg, adapter: adapter}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, old := range p.entries {
		old.mu.Lock()
		if e, ok := next[id]; ok && old.cfg.Adapter == e.cfg.Adapter {
			e.cfg.Healthy = old.cfg.Healthy
			e.cfg.Failures = old.cfg.Failures
			e.cfg.CachedBalance = old.cfg.CachedBalance
			e.cfg.LastHealthCheck = old.cfg.LastHealthCheck
		}
		old.retired = true
		old.mu.Unlock()
	}
	p.entries = next

	log.Info().Int("vendors", len(next)).Msg("vendor pool loaded")
	return nil
}

// Snapshot returns a copy of every vendor's state ordered by id.
func (p *Pool) Snapshot() []models.VendorConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.VendorConfig, 0, len(p.entries))
	for _, e := range p.entries {
		e.mu.Lock()
		out = append(out, e.cfg)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) Get(id string) (models.VendorConfig, bool) {
	e, ok := p.entry(id)
	if !ok {
		return models.VendorConfig{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, true
}

func (p *Pool) Adapter(id string) (Adapter, error) {
	e, ok := p.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVendor, id)
	}
	return e.adapter, nil
}

// RecordFailure counts a transient purchase failure and marks the vendor unhealthy
// once threshold consecutive failures are reached.
func (p *Pool) RecordFailure(id string, threshold int) (models.VendorConfig, error) {
	e, err := p.lockCurrent(id)
	if err != nil {
		return models.VendorConfig{}, err
	}
	defer e.mu.Unlock()

	e.cfg.Failures++
	if e.cfg.Healthy && threshold > 0 && e.cfg.Failures >= threshold {
		e.cfg.Healthy = false
		log.Warn().Str("vendor", id).Int("failures", e.cfg.Failures).Msg("vendor marked UNHEALTHY after consecutive failures")
	}
	return e.cfg, nil
}

// RecordProbe applies a health probe result.
func (p *Pool) RecordProbe(id string, balance int64, probeErr error, threshold int, at time.Time) (models.VendorConfig, error) {
	e, err := p.lockCurrent(id)
	if err != nil {
		return models.VendorConfig{}, err
	}
	defer e.mu.Unlock()

	e.cfg.LastHealthCheck = at
	if probeErr != nil {
		e.cfg.Failures++
		if e.cfg.Healthy && threshold > 0 && e.cfg.Failures >= threshold {
			e.cfg.Healthy = false
			log.Warn().Str("vendor", id).Err(probeErr).Msg("vendor marked UNHEALTHY by health monitor")
		}
		return e.cfg, nil
	}

	if !e.cfg.Healthy {
		log.Info().Str("vendor", id).Msg("vendor marked HEALTHY by health monitor")
	}
	e.cfg.Healthy = true
	e.cfg.Failures = 0
	e.cfg.CachedBalance = balance
	return e.cfg, nil
}

// lockCurrent returns the live entry for id with its lock held. An entry that a
// concurrent reload retired is skipped for its replacement.
func (p *Pool) lockCurrent(id string) (*entry, error) {
	for {
		e, ok := p.entry(id)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownVendor, id)
		}
		e.mu.Lock()
		if !e.retired {
			return e, nil
		}
		e.mu.Unlock()
	}
}

func (p *Pool) entry(id string) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	return e, ok
}
