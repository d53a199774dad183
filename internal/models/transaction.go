package models

import (
	"encoding/json"
	"time"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValidTransition reports whether a transaction may move from one status to another.
func IsValidTransition(from, to TransactionStatus) bool {
	return from == StatusPending && to.Terminal()
}

type TransactionKind string

const (
	KindPurchase TransactionKind = "PURCHASE"
	KindFunding  TransactionKind = "FUNDING"
)

type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	Kind          TransactionKind   `json:"kind"`
	ServiceType   ServiceType       `json:"serviceType,omitempty"`
	Amount        int64             `json:"amount"`
	CostPrice     int64             `json:"costPrice"`
	Profit        int64             `json:"profit"`
	Status        TransactionStatus `json:"status"`
	Reference     string            `json:"reference"`
	VendorID      string            `json:"vendorId,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	Details       json.RawMessage   `json:"details,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
