package pricing

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"vtu-service/internal/models"
)

var ErrLossMaking = errors.New("selling price below cost price")

// Catalog holds the fixed plans and margin rules used to price purchases.
type Catalog struct {
	mu    sync.RWMutex
	plans map[string]models.ServicePlan
	rules []models.PricingRule
}

func NewCatalog() *Catalog {
	return &Catalog{plans: map[string]models.ServicePlan{}}
}

// PutPlan adds or replaces a plan. A plan that sells below cost is refused
// unless it carries the AllowLoss override.
func (c *Catalog) PutPlan(plan models.ServicePlan) error {
	if plan.PlanID == "" {
		return errors.New("plan id is required")
	}
	if plan.CostPrice < 0 || plan.SellingPrice <= 0 {
		return fmt.Errorf("plan %s: prices must be positive", plan.PlanID)
	}
	if plan.SellingPrice < plan.CostPrice && !plan.AllowLoss {
		return fmt.Errorf("plan %s: %w (%d < %d)", plan.PlanID, ErrLossMaking, plan.SellingPrice, plan.CostPrice)
	}
	plan.Network = strings.ToLower(plan.Network)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[plan.PlanID] = plan
	return nil
}

// PutRule adds a rule, replacing any rule with the same service type and network.
func (c *Catalog) PutRule(rule models.PricingRule) error {
	if rule.Margin.LessThanOrEqual(hundred.Neg()) {
		return fmt.Errorf("rule %s/%s: margin must be above -100%%", rule.ServiceType, rule.Network)
	}
	rule.Network = strings.ToLower(rule.Network)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.rules {
		if existing.ServiceType == rule.ServiceType && existing.Network == rule.Network {
			c.rules[i] = rule
			return nil
		}
	}
	c.rules = append(c.rules, rule)
	return nil
}

// Replace swaps the whole catalog atomically after validating every entry.
func (c *Catalog) Replace(plans []models.ServicePlan, rules []models.PricingRule) error {
	next := NewCatalog()
	var errs error
	for _, p := range plans {
		errs = errors.Join(errs, next.PutPlan(p))
	}
	for _, r := range rules {
		errs = errors.Join(errs, next.PutRule(r))
	}
	if errs != nil {
		return errs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans = next.plans
	c.rules = next.rules
	return nil
}

func (c *Catalog) Plan(planID string) (models.ServicePlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planID]
	return p, ok
}

// Rule returns the most specific active rule: an exact network match beats the
// wildcard rule for the service type.
func (c *Catalog) Rule(service models.ServiceType, network string) (models.PricingRule, bool) {
	network = strings.ToLower(network)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		wildcard models.PricingRule
		found    bool
	)
	for _, r := range c.rules {
		if !r.Active || r.ServiceType != service {
			continue
		}
		if r.Network == network && network != "" {
			return r, true
		}
		if r.Network == "" {
			wildcard, found = r, true
		}
	}
	return wildcard, found
}
