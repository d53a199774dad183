package vendors

import (
	"context"
	"encoding/json"

	"vtu-service/internal/models"
)

// Params are the normalized request parameters handed to an adapter.
type Params struct {
	Reference string
	Target    string
	Network   string
	PlanID    string
	MeterType string
	Phone     string
}

type PurchaseResult struct {
	ProviderReference string
	Raw               json.RawMessage
}

// Adapter is the uniform contract every supplier integration implements.
//
// Purchase and Balance errors must be *TransientError or *RejectedError.
type Adapter interface {
	Quote(ctx context.Context, service models.ServiceType, params Params) (int64, error)
	Purchase(ctx context.Context, service models.ServiceType, params Params, amount int64) (PurchaseResult, error)
	Balance(ctx context.Context) (int64, error)
}
