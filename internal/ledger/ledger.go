package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vtu-service/internal/models"
)

// Notifier is told about every transaction that reaches a terminal state.
type Notifier interface {
	TransactionSettled(ctx context.Context, txn models.Transaction)
}

// Ledger owns the transaction state machine and the wallet balance.
type Ledger struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func New(store Store, notifier Notifier) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type OpenParams struct {
	UserID      string
	Kind        models.TransactionKind
	ServiceType models.ServiceType
	Amount      int64
	// Reference is generated when empty.
	Reference string
	Details   any
}

// NewReference generates an externally visible reference for a transaction kind.
func NewReference(kind models.TransactionKind) string {
	prefix := "PUR"
	if kind == models.KindFunding {
		prefix = "FND"
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Open records a new PENDING transaction.
func (l *Ledger) Open(ctx context.Context, p OpenParams) (*models.Transaction, error) {
	if p.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", p.Amount)
	}
	if p.Kind != models.KindPurchase && p.Kind != models.KindFunding {
		return nil, fmt.Errorf("unknown transaction kind %q", p.Kind)
	}
	if p.Reference == "" {
		p.Reference = NewReference(p.Kind)
	}

	var details json.RawMessage
	if p.Details != nil {
		b, err := json.Marshal(p.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal details: %w", err)
		}
		details = b
	}

	now := l.now()
	txn := &models.Transaction{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Kind:        p.Kind,
		ServiceType: p.ServiceType,
		Amount:      p.Amount,
		Status:      models.StatusPending,
		Reference:   p.Reference,
		Details:     details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	log.Debug().Str("reference", txn.Reference).Str("kind", string(txn.Kind)).Int64("amount", txn.Amount).Msg("transaction opened")
	return txn, nil
}

// DebitAndComplete charges the wallet for a fulfilled purchase and completes the
// transaction as one atomic step.
func (l *Ledger) DebitAndComplete(ctx context.Context, id, vendorID string, costPrice, profit int64, details any) (int64, error) {
	raw, err := marshalDetails(details)
	if err != nil {
		return 0, err
	}
	balance, err := l.store.CompleteDebit(ctx, id, Debit{
		VendorID:  vendorID,
		CostPrice: costPrice,
		Profit:    profit,
		Details:   raw,
	})
	if err != nil {
		return 0, err
	}
	l.settled(ctx, id)
	return balance, nil
}

// Fail moves a PENDING transaction to FAILED. No balance changes.
func (l *Ledger) Fail(ctx context.Context, id, reason string, details any) error {
	raw, err := marshalDetails(details)
	if err != nil {
		return err
	}
	if err := l.store.FailTransaction(ctx, id, reason, raw); err != nil {
		return err
	}
	l.settled(ctx, id)
	return nil
}

// Credit funds the wallet and completes a funding transaction as one atomic step.
func (l *Ledger) Credit(ctx context.Context, id string, amount int64, details any) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	raw, err := marshalDetails(details)
	if err != nil {
		return 0, err
	}
	balance, err := l.store.CompleteCredit(ctx, id, amount, raw)
	if err != nil {
		return 0, err
	}
	l.settled(ctx, id)
	return balance, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

func (l *Ledger) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return l.store.GetTransactionByReference(ctx, reference)
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

func (l *Ledger) PinHash(ctx context.Context, userID string) (string, error) {
	return l.store.PinHash(ctx, userID)
}

func (l *Ledger) settled(ctx context.Context, id string) {
	if l.notifier == nil {
		return
	}
	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("transaction", id).Msg("failed to load settled transaction")
		return
	}
	l.notifier.TransactionSettled(ctx, *txn)
}

func marshalDetails(details any) (json.RawMessage, error) {
	switch d := details.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal details: %w", err)
		}
		return b, nil
	}
}
