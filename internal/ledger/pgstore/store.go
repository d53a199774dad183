// Package pgstore is the PostgreSQL ledger.Store.
//
// Every terminal transition is one SQL transaction whose first statement is the
// status check-and-set, so concurrent callers racing on the same transaction
// serialize on its row and the loser sees zero rows.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateUser(ctx context.Context, userID, pinHash string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (id, pin_hash) VALUES ($1, $2)`, userID, pinHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return ledger.ErrUserExists
	}
	return err
}

func (s *Store) PinHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT pin_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ledger.ErrUserNotFound
	}
	return hash, err
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrUserNotFound
	}
	return balance, err
}

func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	details := txn.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, kind, service_type, amount, status, reference, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`,
		txn.ID, txn.UserID, txn.Kind, txn.ServiceType, txn.Amount, txn.Status, txn.Reference, details, txn.CreatedAt, txn.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if pgErr.ConstraintName == "transactions_reference_key" {
				return fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, txn.Reference)
			}
		case codeForeignKeyViolation:
			return ledger.ErrUserNotFound
		}
	}
	return err
}

const selectTransaction = `
	SELECT id, user_id, kind, service_type, amount, cost_price, profit, status, reference,
	       COALESCE(vendor_id, ''), failure_reason, details, created_at, updated_at
	FROM transactions`

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.queryTransaction(ctx, selectTransaction+` WHERE id = $1`, id)
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.queryTransaction(ctx, selectTransaction+` WHERE reference = $1`, reference)
}

func (s *Store) queryTransaction(ctx context.Context, query string, arg string) (*models.Transaction, error) {
	var (
		txn     models.Transaction
		details []byte
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&txn.ID, &txn.UserID, &txn.Kind, &txn.ServiceType, &txn.Amount, &txn.CostPrice, &txn.Profit,
		&txn.Status, &txn.Reference, &txn.VendorID, &txn.FailureReason, &details, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.Details = details
	return &txn, nil
}

func (s *Store) CompleteDebit(ctx context.Context, id string, debit ledger.Debit) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			userID string
			amount int64
		)
		err := tx.QueryRow(ctx, `
			UPDATE transactions
			SET status = 'COMPLETED', vendor_id = $2, cost_price = $3, profit = $4,
			    details = details || COALESCE($5::jsonb, '{}'::jsonb), updated_at = now()
			WHERE id = $1 AND status = 'PENDING' AND kind = 'PURCHASE'
			RETURNING user_id, amount`,
			id, debit.VendorID, debit.CostPrice, debit.Profit, nullableJSON(debit.Details),
		).Scan(&userID, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return transitionError(ctx, tx, id, models.KindPurchase)
		}
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE users SET balance = balance - $2, updated_at = now()
			WHERE id = $1 AND balance >= $2
			RETURNING balance`,
			userID, amount,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			current := int64(-1)
			_ = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&current)
			return &ledger.InsufficientFundsError{Balance: current, Amount: amount}
		}
		return err
	})
	return balance, err
}

func (s *Store) CompleteCredit(ctx context.Context, id string, amount int64, details json.RawMessage) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx, `
			UPDATE transactions
			SET status = 'COMPLETED', details = details || COALESCE($2::jsonb, '{}'::jsonb), updated_at = now()
			WHERE id = $1 AND status = 'PENDING' AND kind = 'FUNDING'
			RETURNING user_id`,
			id, nullableJSON(details),
		).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return transitionError(ctx, tx, id, models.KindFunding)
		}
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
			UPDATE users SET balance = balance + $2, updated_at = now()
			WHERE id = $1
			RETURNING balance`,
			userID, amount,
		).Scan(&balance)
	})
	return balance, err
}

func (s *Store) FailTransaction(ctx context.Context, id, reason string, details json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'FAILED', failure_reason = $2,
		    details = details || COALESCE($3::jsonb, '{}'::jsonb), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`,
		id, reason, nullableJSON(details),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, s.pool, id, "")
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// transitionError explains why a check-and-set matched no rows.
func transitionError(ctx context.Context, q querier, id string, kind models.TransactionKind) error {
	var (
		gotKind models.TransactionKind
		status  models.TransactionStatus
	)
	err := q.QueryRow(ctx, `SELECT kind, status FROM transactions WHERE id = $1`, id).Scan(&gotKind, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	if kind != "" && gotKind != kind {
		return fmt.Errorf("%w: %s", ledger.ErrWrongKind, gotKind)
	}
	return ledger.ErrAlreadyTerminal
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
