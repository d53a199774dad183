package models

// PurchaseRequest is what the UI layer submits for a service purchase.
type PurchaseRequest struct {
	ServiceType ServiceType `json:"serviceType"`
	// Target is the phone, meter or smartcard number.
	Target  string `json:"target"`
	Network string `json:"network"`
	PlanID  string `json:"planId,omitempty"`
	// Amount is used when no PlanID is given, in kobo.
	Amount    int64  `json:"amount,omitempty"`
	MeterType string `json:"meterType,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Reference string `json:"reference,omitempty"`
	Pin       string `json:"authorizationPin"`
}

type PurchaseResponse struct {
	Reference  string            `json:"reference"`
	Status     TransactionStatus `json:"status"`
	NewBalance *int64            `json:"newWalletBalance,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Message    string            `json:"message,omitempty"`
}

type FundingRequest struct {
	Amount int64  `json:"amount"`
	Email  string `json:"email,omitempty"`
}

type FundingResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode,omitempty"`
}

type VerifyResponse struct {
	Reference  string            `json:"reference"`
	Status     TransactionStatus `json:"status"`
	NewBalance *int64            `json:"newWalletBalance,omitempty"`
}

// Failure reasons returned to callers.
const (
	ReasonInsufficientFunds      = "insufficient_funds"
	ReasonInvalidDestination     = "invalid_destination"
	ReasonTemporarilyUnavailable = "temporarily_unavailable"
	ReasonInvalidPin             = "invalid_pin"
	ReasonNoPrice                = "no_price"
	ReasonGatewayDeclined        = "gateway_declined"
	ReasonAmountMismatch         = "amount_mismatch"
)
