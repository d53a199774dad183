// Package storetest checks that a ledger.Store honours the wallet contract.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
)

// Run exercises newStore against the ledger.Store contract. newStore must return
// an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()

	tests := map[string]func(t *testing.T, s ledger.Store){
		"users":                          testUsers,
		"duplicate reference":            testDuplicateReference,
		"transaction requires user":      testTransactionRequiresUser,
		"credit completes funding":       testCreditCompletesFunding,
		"credit is applied once":         testCreditAppliedOnce,
		"debit completes purchase":       testDebitCompletesPurchase,
		"debit insufficient funds":       testDebitInsufficientFunds,
		"fail leaves balance untouched":  testFailLeavesBalance,
		"terminal transitions are final": testTerminalFinal,
		"wrong kind":                     testWrongKind,
		"not found":                      testNotFound,
		"concurrent credits":             testConcurrentCredits,
		"concurrent debits":              testConcurrentDebits,
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc(t, newStore(t))
		})
	}
}

func newUser(t *testing.T, s ledger.Store) string {
	t.Helper()
	id := "user-" + uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), id, "hash"))
	return id
}

func open(t *testing.T, s ledger.Store, userID string, kind models.TransactionKind, amount int64) *models.Transaction {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	txn := &models.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Status:    models.StatusPending,
		Reference: ledger.NewReference(kind),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == models.KindPurchase {
		txn.ServiceType = models.ServiceAirtime
	}
	require.NoError(t, s.CreateTransaction(context.Background(), txn))
	return txn
}

func fund(t *testing.T, s ledger.Store, userID string, amount int64) {
	t.Helper()
	txn := open(t, s, userID, models.KindFunding, amount)
	_, err := s.CompleteCredit(context.Background(), txn.ID, amount, nil)
	require.NoError(t, err)
}

func testUsers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	id := "user-" + uuid.NewString()
	require.NoError(t, s.CreateUser(ctx, id, "secret-hash"))
	require.ErrorIs(t, s.CreateUser(ctx, id, "other"), ledger.ErrUserExists)

	hash, err := s.PinHash(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "secret-hash", hash)

	balance, err := s.Balance(ctx, id)
	require.NoError(t, err)
	require.Zero(t, balance)

	_, err = s.Balance(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
	_, err = s.PinHash(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func testDuplicateReference(t *testing.T, s ledger.Store) {
	userID := newUser(t, s)
	first := open(t, s, userID, models.KindFunding, 100)

	dup := *first
	dup.ID = uuid.NewString()
	err := s.CreateTransaction(context.Background(), &dup)
	require.ErrorIs(t, err, ledger.ErrDuplicateReference)
}

func testTransactionRequiresUser(t *testing.T, s ledger.Store) {
	now := time.Now().UTC()
	err := s.CreateTransaction(context.Background(), &models.Transaction{
		ID:        uuid.NewString(),
		UserID:    "nobody",
		Kind:      models.KindFunding,
		Amount:    100,
		Status:    models.StatusPending,
		Reference: ledger.NewReference(models.KindFunding),
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func testCreditCompletesFunding(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	txn := open(t, s, userID, models.KindFunding, 1_000_000)

	balance, err := s.CompleteCredit(ctx, txn.ID, 1_000_000, json.RawMessage(`{"channel":"card"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), balance)

	got, err := s.GetTransactionByReference(ctx, txn.Reference)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.Equal(t, txn.ID, got.ID)
	require.JSONEq(t, `{"channel":"card"}`, string(got.Details))
}

func testCreditAppliedOnce(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	txn := open(t, s, userID, models.KindFunding, 500)

	_, err := s.CompleteCredit(ctx, txn.ID, 500, nil)
	require.NoError(t, err)
	_, err = s.CompleteCredit(ctx, txn.ID, 500, nil)
	require.ErrorIs(t, err, ledger.ErrAlreadyTerminal)

	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}

func testDebitCompletesPurchase(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 500_000)
	txn := open(t, s, userID, models.KindPurchase, 300_000)

	balance, err := s.CompleteDebit(ctx, txn.ID, ledger.Debit{
		VendorID:  "vtpass",
		CostPrice: 290_000,
		Profit:    10_000,
		Details:   json.RawMessage(`{"providerReference":"abc"}`),
	})
	require.NoError(t, err)
	require.Equal(t, int64(200_000), balance)

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.Equal(t, "vtpass", got.VendorID)
	require.Equal(t, int64(290_000), got.CostPrice)
	require.Equal(t, int64(10_000), got.Profit)
	require.Equal(t, got.Amount, got.CostPrice+got.Profit)
}

func testDebitInsufficientFunds(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 100)
	txn := open(t, s, userID, models.KindPurchase, 101)

	_, err := s.CompleteDebit(ctx, txn.ID, ledger.Debit{VendorID: "v"})
	require.True(t, ledger.IsInsufficientFunds(err), "got %v", err)

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)

	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}

func testFailLeavesBalance(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 1_000)
	txn := open(t, s, userID, models.KindPurchase, 400)

	require.NoError(t, s.FailTransaction(ctx, txn.ID, "invalid_destination", json.RawMessage(`{"vendor":"a"}`)))

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "invalid_destination", got.FailureReason)

	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), balance)
}

func testTerminalFinal(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 1_000)

	failed := open(t, s, userID, models.KindPurchase, 400)
	require.NoError(t, s.FailTransaction(ctx, failed.ID, "x", nil))
	_, err := s.CompleteDebit(ctx, failed.ID, ledger.Debit{VendorID: "v"})
	require.ErrorIs(t, err, ledger.ErrAlreadyTerminal)
	require.ErrorIs(t, s.FailTransaction(ctx, failed.ID, "y", nil), ledger.ErrAlreadyTerminal)

	done := open(t, s, userID, models.KindPurchase, 400)
	_, err = s.CompleteDebit(ctx, done.ID, ledger.Debit{VendorID: "v"})
	require.NoError(t, err)
	require.ErrorIs(t, s.FailTransaction(ctx, done.ID, "late", nil), ledger.ErrAlreadyTerminal)

	got, err := s.GetTransaction(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)

	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(600), balance)
}

func testWrongKind(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 1_000)

	purchase := open(t, s, userID, models.KindPurchase, 100)
	_, err := s.CompleteCredit(ctx, purchase.ID, 100, nil)
	require.ErrorIs(t, err, ledger.ErrWrongKind)

	funding := open(t, s, userID, models.KindFunding, 100)
	_, err = s.CompleteDebit(ctx, funding.ID, ledger.Debit{VendorID: "v"})
	require.ErrorIs(t, err, ledger.ErrWrongKind)
}

func testNotFound(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.GetTransaction(ctx, uuid.NewString())
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.GetTransactionByReference(ctx, "FND-missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.CompleteCredit(ctx, uuid.NewString(), 1, nil)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.ErrorIs(t, s.FailTransaction(ctx, uuid.NewString(), "x", nil), ledger.ErrNotFound)
}

// testConcurrentCredits races many completions of the same funding transaction.
func testConcurrentCredits(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	txn := open(t, s, userID, models.KindFunding, 1_000_000)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompleteCredit(ctx, txn.ID, 1_000_000, nil)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ledger.ErrAlreadyTerminal) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), balance)
}

// testConcurrentDebits races distinct purchases that together exceed the balance.
func testConcurrentDebits(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	fund(t, s, userID, 1_000)

	const workers = 10
	txns := make([]*models.Transaction, workers)
	for i := range txns {
		txns[i] = open(t, s, userID, models.KindPurchase, 300)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, txn := range txns {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.CompleteDebit(ctx, id, ledger.Debit{VendorID: "v"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !ledger.IsInsufficientFunds(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(txn.ID)
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	balance, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}
