package services

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"vtu-service/internal/config"
	"vtu-service/internal/pricing"
	"vtu-service/internal/vendors"
)

// CatalogService loads the catalog file into the vendor pool and the pricing
// catalog, at startup and on explicit reload.
type CatalogService struct {
	path    string
	pool    *vendors.Pool
	pricing *pricing.Catalog
	mu      sync.Mutex
}

func NewCatalogService(path string, pool *vendors.Pool, prices *pricing.Catalog) *CatalogService {
	return &CatalogService{path: path, pool: pool, pricing: prices}
}

// Reload re-reads the catalog file. Nothing changes unless the whole file is valid.
func (s *CatalogService) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, err := config.LoadCatalog(s.path)
	if err != nil {
		return err
	}
	return s.apply(cat)
}

func (s *CatalogService) apply(cat *config.Catalog) error {
	// Validate prices before touching the pool so a bad file is all-or-nothing.
	staged := pricing.NewCatalog()
	if err := staged.Replace(cat.Plans, cat.Rules); err != nil {
		return fmt.Errorf("invalid pricing: %w", err)
	}
	if err := s.pool.Reload(cat.Vendors); err != nil {
		return fmt.Errorf("invalid vendors: %w", err)
	}
	if err := s.pricing.Replace(cat.Plans, cat.Rules); err != nil {
		return err
	}

	log.Info().Str("path", s.path).Int("vendors", len(cat.Vendors)).Int("plans", len(cat.Plans)).Int("rules", len(cat.Rules)).
		Msg("Catalog loaded")
	return nil
}
