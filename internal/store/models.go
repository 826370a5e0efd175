package store

import (
	"time"

	"accounts.api/internal/ledger"
)

type Transaction struct {
	ID        string
	Type      ledger.Type
	Amount    int64
	UserID    string
	MadeBy    string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionDetail is a transaction joined with its owner, as listed to callers.
type TransactionDetail struct {
	Transaction
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// Change is the outcome of a ledger mutation: the stored row and the owner's
// balance after the same unit of work.
type Change struct {
	Transaction Transaction
	Balance     int64
}

type CreateTransactionInput struct {
	Type   ledger.Type
	Amount int64
	UserID string
	MadeBy string
}

type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	PhoneNumber    string
	AccountBalance int64
	IsVerified     bool
	RoleID         int
	RoleName       string
	ProfilePicture *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateUserInput struct {
	Email          string
	FirstName      string
	LastName       string
	PhoneNumber    string
	RoleID         int
	OpeningBalance int64
	CreatedBy      string
}

type UpdateProfileInput struct {
	FirstName string
	LastName  string
	Email     string
}

// Credentials is what login needs; kept apart from User so the hash never
// travels with regular user reads.
type Credentials struct {
	User         User
	PasswordHash string
}

// Reconciliation compares the cached balance with the one derived from the ledger.
type Reconciliation struct {
	UserID       string
	Cached       int64
	Derived      int64
	LiveCount    int
	DeletedCount int
}

func (r Reconciliation) Consistent() bool {
	return r.Cached == r.Derived
}
