package models

import "encoding/json"

// WebhookEvent is the payment gateway's event envelope.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type WebhookCharge struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Currency  string `json:"currency"`
}

// Verification is the gateway's independent view of a payment.
type Verification struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Gateway verification statuses.
const (
	GatewaySuccess   = "success"
	GatewayFailed    = "failed"
	GatewayAbandoned = "abandoned"
	GatewayReversed  = "reversed"
)

// VerifyJob is queued when a payment could not be verified inline.
type VerifyJob struct {
	Reference  string `json:"reference"`
	Source     string `json:"source"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
}
