package models

import "github.com/shopspring/decimal"

// ServicePlan is a fixed-price catalog entry, e.g. a specific data bundle.
type ServicePlan struct {
	PlanID       string      `json:"planId" yaml:"plan_id"`
	VendorID     string      `json:"vendorId" yaml:"vendor_id"`
	ServiceType  ServiceType `json:"serviceType" yaml:"service_type"`
	Network      string      `json:"network" yaml:"network"`
	Name         string      `json:"name" yaml:"name"`
	CostPrice    int64       `json:"costPrice" yaml:"cost_price"`
	SellingPrice int64       `json:"sellingPrice" yaml:"selling_price"`
	Active       bool        `json:"active" yaml:"active"`
	// AllowLoss is the explicit admin override for SellingPrice < CostPrice.
	AllowLoss bool `json:"allowLoss" yaml:"allow_loss"`
}

// PricingRule is a percentage-margin entry for services without a fixed catalog.
// An empty Network matches every network of the service type.
type PricingRule struct {
	ServiceType ServiceType     `json:"serviceType" yaml:"service_type"`
	Network     string          `json:"network" yaml:"network"`
	Margin      decimal.Decimal `json:"margin" yaml:"margin"`
	Active      bool            `json:"active" yaml:"active"`
}
