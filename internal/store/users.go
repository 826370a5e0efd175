package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"accounts.api/internal/ledger"
)

const userQuery = `
	SELECT u.id, u.email, u.first_name, u.last_name, u.phone_number, u.account_balance,
	       u.is_verified, r.id, r.name, u.profile_picture, u.created_at, u.updated_at
	FROM users u
	INNER JOIN roles r ON r.id = u.role
`

// CreateUser inserts a user with a zero balance. A positive opening balance is
// recorded as a Deposit made by the creator in the same database transaction,
// so the balance is always backed by the ledger.
func (s *Store) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var roleName string
	err = tx.QueryRow(ctx, "SELECT name FROM roles WHERE id = $1", input.RoleID).Scan(&roleName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrRoleNotFound
		}
		return User{}, err
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, phone_number, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, input.Email, input.FirstName, input.LastName, input.PhoneNumber, input.RoleID)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	if input.OpeningBalance > 0 {
		_, err := insertTransaction(ctx, tx, CreateTransactionInput{
			Type:   ledger.Deposit,
			Amount: input.OpeningBalance,
			UserID: id,
			MadeBy: input.CreatedBy,
		})
		if err != nil {
			return User{}, classify(err)
		}
		delta := ledger.Delta(ledger.Deposit, input.OpeningBalance, ledger.Create)
		if _, err := applyBalanceDelta(ctx, tx, id, delta); err != nil {
			return User{}, err
		}
	}

	user, err := scanUser(tx.QueryRow(ctx, userQuery+"WHERE u.id = $1", id))
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, classify(err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, userQuery+"WHERE u.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, userQuery+"ORDER BY u.created_at, u.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (User, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET first_name = $1, last_name = $2, email = $3, updated_at = now()
		WHERE id = $4
	`, input.FirstName, input.LastName, input.Email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrUserNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) PhoneNumberExists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE phone_number = $1)", phone).Scan(&exists)
	return exists, err
}

// MarkVerified flags the owner of phone as verified.
func (s *Store) MarkVerified(ctx context.Context, phone string) (User, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE users
		SET is_verified = TRUE, updated_at = now()
		WHERE phone_number = $1
		RETURNING id
	`, phone).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

// SetPassword stores a password hash for a verified user.
func (s *Store) SetPassword(ctx context.Context, id string, hash string) (User, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var verified bool
	err = tx.QueryRow(ctx, "SELECT is_verified FROM users WHERE id = $1 FOR UPDATE", id).Scan(&verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	if !verified {
		return User{}, ErrNotVerified
	}

	if _, err := tx.Exec(ctx, "UPDATE users SET password = $1, updated_at = now() WHERE id = $2", hash, id); err != nil {
		return User{}, err
	}

	user, err := scanUser(tx.QueryRow(ctx, userQuery+"WHERE u.id = $1", id))
	if err != nil {
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return user, nil
}

// CredentialsByPhone loads a user together with the stored password hash,
// which is empty when no password has been set.
func (s *Store) CredentialsByPhone(ctx context.Context, phone string) (Credentials, error) {
	var c Credentials
	var hash *string
	u := &c.User
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.first_name, u.last_name, u.phone_number, u.account_balance,
		       u.is_verified, r.id, r.name, u.profile_picture, u.created_at, u.updated_at, u.password
		FROM users u
		INNER JOIN roles r ON r.id = u.role
		WHERE u.phone_number = $1
	`, phone).Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PhoneNumber,
		&u.AccountBalance,
		&u.IsVerified,
		&u.RoleID,
		&u.RoleName,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
		&hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrUserNotFound
		}
		return Credentials{}, err
	}
	if hash != nil {
		c.PasswordHash = *hash
	}
	return c, nil
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PhoneNumber,
		&u.AccountBalance,
		&u.IsVerified,
		&u.RoleID,
		&u.RoleName,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}
