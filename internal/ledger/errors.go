package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyTerminal is returned when a transition loses the check-and-set
	// because the transaction already left PENDING. Callers treat it as a no-op.
	ErrAlreadyTerminal = errors.New("transaction already terminal")

	ErrNotFound = errors.New("transaction not found")

	ErrUserNotFound = errors.New("user not found")

	ErrUserExists = errors.New("user already exists")

	ErrDuplicateReference = errors.New("duplicate transaction reference")

	ErrWrongKind = errors.New("operation does not apply to this transaction kind")
)

// InsufficientFundsError means a debit would take the wallet below zero.
type InsufficientFundsError struct {
	// Balance is the wallet balance observed at the time of the error, or -1 if unknown.
	Balance int64
	Amount  int64
}

func (e *InsufficientFundsError) Error() string {
	if e.Balance < 0 {
		return fmt.Sprintf("insufficient funds for %d", e.Amount)
	}
	return fmt.Sprintf("insufficient funds: balance %d, need %d", e.Balance, e.Amount)
}

func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}
