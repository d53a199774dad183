// Package memstore is an in-memory ledger.Store for tests and single-node development.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
)

type user struct {
	balance int64
	pinHash string
}

type Store struct {
	mu           *sync.Mutex
	users        map[string]*user
	transactions map[string]*models.Transaction
	references   map[string]string
}

func New() *Store {
	return &Store{
		mu:           &sync.Mutex{},
		users:        map[string]*user{},
		transactions: map[string]*models.Transaction{},
		references:   map[string]string{},
	}
}

func (s *Store) CreateUser(_ context.Context, userID, pinHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return ledger.ErrUserExists
	}
	s.users[userID] = &user{pinHash: pinHash}
	return nil
}

func (s *Store) PinHash(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return "", ledger.ErrUserNotFound
	}
	return u.pinHash, nil
}

func (s *Store) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, ledger.ErrUserNotFound
	}
	return u.balance, nil
}

func (s *Store) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[txn.UserID]; !ok {
		return ledger.ErrUserNotFound
	}
	if _, ok := s.references[txn.Reference]; ok {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, txn.Reference)
	}
	if _, ok := s.transactions[txn.ID]; ok {
		return fmt.Errorf("transaction id %s already exists", txn.ID)
	}

	stored := *txn
	s.transactions[txn.ID] = &stored
	s.references[txn.Reference] = txn.ID
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *txn
	return &out, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, reference string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.references[reference]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *s.transactions[id]
	return &out, nil
}

func (s *Store) CompleteDebit(_ context.Context, id string, debit ledger.Debit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.pending(id, models.KindPurchase)
	if err != nil {
		return 0, err
	}
	u := s.users[txn.UserID]
	if u.balance < txn.Amount {
		return 0, &ledger.InsufficientFundsError{Balance: u.balance, Amount: txn.Amount}
	}

	u.balance -= txn.Amount
	txn.Status = models.StatusCompleted
	txn.VendorID = debit.VendorID
	txn.CostPrice = debit.CostPrice
	txn.Profit = debit.Profit
	txn.Details = ledger.MergeDetails(txn.Details, debit.Details)
	txn.UpdatedAt = time.Now().UTC()
	return u.balance, nil
}

func (s *Store) CompleteCredit(_ context.Context, id string, amount int64, details json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.pending(id, models.KindFunding)
	if err != nil {
		return 0, err
	}
	u := s.users[txn.UserID]

	u.balance += amount
	txn.Status = models.StatusCompleted
	txn.Details = ledger.MergeDetails(txn.Details, details)
	txn.UpdatedAt = time.Now().UTC()
	return u.balance, nil
}

func (s *Store) FailTransaction(_ context.Context, id, reason string, details json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.pending(id, "")
	if err != nil {
		return err
	}
	txn.Status = models.StatusFailed
	txn.FailureReason = reason
	txn.Details = ledger.MergeDetails(txn.Details, details)
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

// pending returns the stored transaction if it can still transition. s.mu must be held.
func (s *Store) pending(id string, kind models.TransactionKind) (*models.Transaction, error) {
	txn, ok := s.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	if kind != "" && txn.Kind != kind {
		return nil, fmt.Errorf("%w: %s", ledger.ErrWrongKind, txn.Kind)
	}
	if txn.Status != models.StatusPending {
		return nil, ledger.ErrAlreadyTerminal
	}
	return txn, nil
}
