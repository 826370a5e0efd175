// Package storetest prepares a Postgres database for tests. Tests are skipped
// when DATABASE_URL is not set.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	RoleSuperAdmin = 1
	RoleAdmin      = 2
	RoleTreasurer  = 3
	RoleMember     = 4
)

const lockKey int64 = 74110

// Open connects to DATABASE_URL, applies schema.sql and empties every table.
// The pool is closed when the test ends.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	t.Cleanup(pool.Close)

	// Packages run in parallel against one database; hold a session lock so
	// one test owns the tables at a time.
	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire lock connection: %v", err)
	}
	if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		conn.Release()
		t.Fatalf("advisory lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)
		conn.Release()
	})

	applySchema(t, pool)
	resetDB(t, pool)
	return pool
}

// SeedUser inserts a user directly, bypassing the ledger. Use a zero balance
// unless the test is about detecting drift.
func SeedUser(t *testing.T, pool *pgxpool.Pool, role int, balance int64) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, phone_number, role, account_balance, is_verified)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, id, id+"@example.com", "+2547"+id[:8], role, balance)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func Balance(t *testing.T, pool *pgxpool.Pool, userID string) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var balance int64
	err := pool.QueryRow(ctx, "SELECT account_balance FROM users WHERE id = $1", userID).Scan(&balance)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func TransactionCount(t *testing.T, pool *pgxpool.Pool, userID string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID).Scan(&count)
	if err != nil {
		t.Fatalf("get transaction count: %v", err)
	}
	return count
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	schema := loadSchema(t)
	statements := strings.Split(schema, ";")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range statements {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, "TRUNCATE transactions, users"); err != nil {
		t.Fatalf("reset db: %v", err)
	}
}

func loadSchema(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := wd
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "schema.sql")
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read schema: %v", err)
			}
			return string(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("schema.sql not found from %s", wd)
	return ""
}
