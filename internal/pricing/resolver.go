package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"vtu-service/internal/models"
)

// ErrNoPrice means neither a plan nor a rule prices the request. Nothing is ever
// sold without an explicit price.
var ErrNoPrice = errors.New("no price configured")

var hundred = decimal.NewFromInt(100)

type Source string

const (
	SourcePlan Source = "plan"
	SourceRule Source = "rule"
)

type Request struct {
	ServiceType models.ServiceType
	Network     string
	PlanID      string
	// Amount is the face value being bought, used by margin rules.
	Amount int64
}

type Quote struct {
	SellingPrice int64
	CostPrice    int64
	Source       Source
	// Plan is set when the quote came from a fixed plan.
	Plan *models.ServicePlan
}

func (q Quote) Profit() int64 {
	return q.SellingPrice - q.CostPrice
}

type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

func (r *Resolver) Resolve(req Request) (Quote, error) {
	if req.PlanID != "" {
		plan, ok := r.catalog.Plan(req.PlanID)
		if ok && plan.Active && plan.ServiceType == req.ServiceType {
			return Quote{
				SellingPrice: plan.SellingPrice,
				CostPrice:    plan.CostPrice,
				Source:       SourcePlan,
				Plan:         &plan,
			}, nil
		}
	}

	if req.Amount <= 0 {
		return Quote{}, fmt.Errorf("%w for %s plan %q", ErrNoPrice, req.ServiceType, req.PlanID)
	}

	rule, ok := r.catalog.Rule(req.ServiceType, req.Network)
	if !ok {
		return Quote{}, fmt.Errorf("%w for %s on %q", ErrNoPrice, req.ServiceType, req.Network)
	}

	return Quote{
		SellingPrice: ApplyMargin(req.Amount, rule.Margin),
		CostPrice:    req.Amount,
		Source:       SourceRule,
	}, nil
}

// ApplyMargin returns cost * (1 + margin/100) rounded half-up to the nearest kobo.
func ApplyMargin(cost int64, margin decimal.Decimal) int64 {
	factor := decimal.NewFromInt(1).Add(margin.Div(hundred))
	return decimal.NewFromInt(cost).Mul(factor).Round(0).IntPart()
}
