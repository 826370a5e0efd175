package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"accounts.api/internal/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const transactionColumns = `id, type, amount, user_id, made_by, is_deleted, created_at, updated_at`

const detailQuery = `
	SELECT t.id, t.type, t.amount, t.user_id, t.made_by, t.is_deleted, t.created_at, t.updated_at,
	       u.email, u.first_name, u.last_name, u.phone_number
	FROM transactions t
	INNER JOIN users u ON u.id = t.user_id
`

type scanner interface {
	Scan(dest ...any) error
}

// CreateTransaction records a new live transaction and applies its effect to
// the owner's balance in the same database transaction.
func (s *Store) CreateTransaction(ctx context.Context, input CreateTransactionInput) (Change, error) {
	if !input.Type.Valid() {
		return Change{}, ledger.ErrUnknownType
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Change{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balance int64
	err = tx.QueryRow(ctx, "SELECT account_balance FROM users WHERE id = $1 FOR UPDATE", input.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Change{}, ErrUserNotFound
		}
		return Change{}, classify(err)
	}

	delta := ledger.Delta(input.Type, input.Amount, ledger.Create)
	if delta < 0 && balance+delta < 0 {
		return Change{}, ErrInsufficientBalance
	}

	created, err := insertTransaction(ctx, tx, input)
	if err != nil {
		return Change{}, classify(err)
	}

	balance, err = applyBalanceDelta(ctx, tx, input.UserID, delta)
	if err != nil {
		return Change{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Change{}, classify(err)
	}

	return Change{Transaction: created, Balance: balance}, nil
}

// DeleteTransaction soft-deletes a live transaction and reverses its effect.
// A missing or already deleted transaction is reported as ErrNotFound.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (Change, error) {
	return s.transition(ctx, id, ledger.Delete)
}

// UndoTransaction restores a soft-deleted transaction and re-applies its
// effect. A missing or live transaction is reported as ErrNotFound.
func (s *Store) UndoTransaction(ctx context.Context, id string) (Change, error) {
	return s.transition(ctx, id, ledger.Undo)
}

func (s *Store) transition(ctx context.Context, id string, ev ledger.Event) (Change, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Change{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanTransaction(tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Change{}, ErrNotFound
		}
		return Change{}, classify(err)
	}

	deleting := ev == ledger.Delete
	if current.IsDeleted == deleting {
		return Change{}, ErrNotFound
	}

	balance, err := applyBalanceDelta(ctx, tx, current.UserID, ledger.Delta(current.Type, current.Amount, ev))
	if err != nil {
		return Change{}, err
	}

	updated, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE transactions
		SET is_deleted = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+transactionColumns,
		deleting, id,
	))
	if err != nil {
		return Change{}, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Change{}, classify(err)
	}

	return Change{Transaction: updated, Balance: balance}, nil
}

// ListUserTransactions returns the user's live transactions, newest first.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]TransactionDetail, error) {
	return s.listDetails(ctx, detailQuery+`
		WHERE t.user_id = $1 AND NOT t.is_deleted
		ORDER BY t.created_at DESC, t.id DESC
	`, userID)
}

// ListTransactions returns every transaction, newest first. Soft-deleted rows
// are included only when includeDeleted is set.
func (s *Store) ListTransactions(ctx context.Context, includeDeleted bool) ([]TransactionDetail, error) {
	return s.listDetails(ctx, detailQuery+`
		WHERE $1 OR NOT t.is_deleted
		ORDER BY t.created_at DESC, t.id DESC
	`, includeDeleted)
}

// Reconcile reads the cached balance and the ledger from one snapshot and
// derives the balance the ledger implies.
func (s *Store) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Reconciliation{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	r := Reconciliation{UserID: userID}
	err = tx.QueryRow(ctx, "SELECT account_balance FROM users WHERE id = $1", userID).Scan(&r.Cached)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, ErrUserNotFound
		}
		return Reconciliation{}, err
	}

	rows, err := tx.Query(ctx, "SELECT type, amount, is_deleted FROM transactions WHERE user_id = $1", userID)
	if err != nil {
		return Reconciliation{}, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var typ string
		if err := rows.Scan(&typ, &e.Amount, &e.IsDeleted); err != nil {
			return Reconciliation{}, err
		}
		e.Type = ledger.Type(typ)
		if e.IsDeleted {
			r.DeletedCount++
		} else {
			r.LiveCount++
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Reconciliation{}, err
	}

	r.Derived = ledger.Balance(entries)
	return r, nil
}

func (s *Store) listDetails(ctx context.Context, query string, args ...any) ([]TransactionDetail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TransactionDetail{}
	for rows.Next() {
		var d TransactionDetail
		var typ string
		err := rows.Scan(
			&d.ID,
			&typ,
			&d.Amount,
			&d.UserID,
			&d.MadeBy,
			&d.IsDeleted,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.Email,
			&d.FirstName,
			&d.LastName,
			&d.PhoneNumber,
		)
		if err != nil {
			return nil, err
		}
		d.Type = ledger.Type(typ)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// applyBalanceDelta is the only statement that writes account_balance. It
// needs the caller's open transaction so it cannot outlive the ledger change.
func applyBalanceDelta(ctx context.Context, tx pgx.Tx, userID string, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE users
		SET account_balance = account_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING account_balance
	`, delta, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, classify(err)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, input CreateTransactionInput) (Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `
		INSERT INTO transactions (id, type, amount, user_id, made_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+transactionColumns,
		uuid.NewString(),
		string(input.Type),
		input.Amount,
		input.UserID,
		input.MadeBy,
	))
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var typ string
	err := row.Scan(
		&t.ID,
		&typ,
		&t.Amount,
		&t.UserID,
		&t.MadeBy,
		&t.IsDeleted,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	t.Type = ledger.Type(typ)
	return t, err
}

// classify turns lock contention reported by Postgres into ErrConflict and a
// BIGINT overflow of account_balance into ErrBalanceOutOfRange.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "22003":
		return fmt.Errorf("%w: %s", ErrBalanceOutOfRange, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
