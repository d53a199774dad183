package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vtu-service/internal/models"
)

// Catalog is the file-backed definition of vendors, fixed plans and margin rules.
type Catalog struct {
	Vendors []models.VendorConfig `yaml:"vendors"`
	Plans   []models.ServicePlan  `yaml:"plans"`
	Rules   []models.PricingRule  `yaml:"rules"`
}

func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog reads a YAML catalog. `${VAR}` and `${VAR:-default}` references
// are expanded from the environment first, so credentials need not live in the
// file. Every vendor's credentials are validated against its adapter kind.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &cat, nil
}

func (c *Catalog) Validate() error {
	var errs error
	seen := map[string]bool{}
	for i := range c.Vendors {
		v := &c.Vendors[i]
		if v.ID == "" {
			errs = errors.Join(errs, fmt.Errorf("vendors[%d]: id is required", i))
			continue
		}
		if seen[v.ID] {
			errs = errors.Join(errs, fmt.Errorf("vendor %s: duplicate id", v.ID))
		}
		seen[v.ID] = true

		if err := v.Credentials.Validate(v.Adapter); err != nil {
			errs = errors.Join(errs, fmt.Errorf("vendor %s: %w", v.ID, err))
		}
		for j, s := range v.Services {
			st, err := models.ParseServiceType(string(s))
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("vendor %s: %w", v.ID, err))
				continue
			}
			v.Services[j] = st
		}
	}

	for i := range c.Plans {
		p := &c.Plans[i]
		st, err := models.ParseServiceType(string(p.ServiceType))
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("plan %s: %w", p.PlanID, err))
			continue
		}
		p.ServiceType = st
		if p.VendorID != "" && !seen[p.VendorID] {
			errs = errors.Join(errs, fmt.Errorf("plan %s: unknown vendor %q", p.PlanID, p.VendorID))
		}
	}

	for i := range c.Rules {
		r := &c.Rules[i]
		st, err := models.ParseServiceType(string(r.ServiceType))
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		r.ServiceType = st
	}
	return errs
}

func expandEnv(raw string) (string, error) {
	var missing []string
	expanded := os.Expand(raw, func(key string) string {
		if i := strings.Index(key, ":-"); i != -1 {
			if val, ok := os.LookupEnv(key[:i]); ok {
				return val
			}
			return key[i+2:]
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("catalog expects the following environment variables to be set: %v", missing)
	}
	return expanded, nil
}
