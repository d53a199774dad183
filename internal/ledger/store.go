package ledger

import (
	"context"
	"encoding/json"

	"vtu-service/internal/models"
)

// Debit describes a successful vendor fulfillment to be charged to the wallet.
type Debit struct {
	VendorID  string
	CostPrice int64
	Profit    int64
	Details   json.RawMessage
}

// Store persists wallets and transactions.
//
// Implementations can be checked with the storetest package.
//
//   - Terminal transitions must only apply to PENDING transactions and must
//     return ErrAlreadyTerminal otherwise, without touching any balance.
//   - CompleteDebit must change the transaction status and the wallet balance in
//     one atomic step, or neither, and must never take a balance below zero.
//   - CompleteCredit must change the transaction status and the wallet balance in
//     one atomic step, or neither.
//   - References are unique across all transactions.
type Store interface {
	CreateUser(ctx context.Context, userID, pinHash string) error
	PinHash(ctx context.Context, userID string) (string, error)
	Balance(ctx context.Context, userID string) (int64, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)

	// CompleteDebit debits the transaction amount and marks it COMPLETED.
	// Returns the new balance.
	CompleteDebit(ctx context.Context, id string, debit Debit) (int64, error)
	// CompleteCredit credits amount and marks the transaction COMPLETED.
	// Returns the new balance.
	CompleteCredit(ctx context.Context, id string, amount int64, details json.RawMessage) (int64, error)
	FailTransaction(ctx context.Context, id, reason string, details json.RawMessage) error
}

// MergeDetails merges the top-level keys of update into base. Non-object inputs
// are kept under a "detail" key.
func MergeDetails(base, update json.RawMessage) json.RawMessage {
	if len(update) == 0 {
		return base
	}
	merged := map[string]json.RawMessage{}
	for _, raw := range []json.RawMessage{base, update} {
		if len(raw) == 0 {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			merged["detail"] = raw
			continue
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return base
	}
	return out
}
