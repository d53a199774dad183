package vendors

import (
	"fmt"
	"net/http"
	"time"

	"vtu-service/internal/models"
)

// Factory builds an adapter for a validated vendor configuration.
type Factory func(cfg models.VendorConfig, client *http.Client) (Adapter, error)

// Registry maps the closed set of adapter kinds to their constructors.
type Registry struct {
	factories map[models.AdapterKind]Factory
	client    *http.Client
}

func NewRegistry(client *http.Client, factories map[models.AdapterKind]Factory) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{factories: factories, client: client}
}

// DefaultRegistry registers every adapter compiled into the binary.
func DefaultRegistry(timeout time.Duration) *Registry {
	return NewRegistry(&http.Client{Timeout: timeout}, map[models.AdapterKind]Factory{
		models.AdapterVTPass:      NewVTPass,
		models.AdapterClubKonnect: NewClubKonnect,
	})
}

func (r *Registry) Known(kind models.AdapterKind) bool {
	_, ok := r.factories[kind]
	return ok
}

func (r *Registry) New(cfg models.VendorConfig) (Adapter, error) {
	factory, ok := r.factories[cfg.Adapter]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w %q", cfg.ID, ErrUnknownAdapter, cfg.Adapter)
	}
	return factory(cfg, r.client)
}
