package store_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"accounts.api/internal/ledger"
	"accounts.api/internal/store"
	"accounts.api/internal/store/storetest"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func deposit(t *testing.T, st *store.Store, userID string, amount int64) store.Change {
	t.Helper()
	ch, err := st.CreateTransaction(testContext(t), store.CreateTransactionInput{
		Type:   ledger.Deposit,
		Amount: amount,
		UserID: userID,
		MadeBy: "treasurer-1",
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	return ch
}

func TestDepositDeleteUndoRoundTrip(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)

	created := deposit(t, st, userID, 100)
	if created.Balance != 100 || storetest.Balance(t, pool, userID) != 100 {
		t.Fatalf("expected balance 100 after create, got %d", created.Balance)
	}
	if created.Transaction.IsDeleted || created.Transaction.MadeBy != "treasurer-1" {
		t.Fatalf("unexpected created transaction: %+v", created.Transaction)
	}

	deleted, err := st.DeleteTransaction(ctx, created.Transaction.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Transaction.IsDeleted || deleted.Balance != 0 {
		t.Fatalf("expected deleted transaction and balance 0, got %+v", deleted)
	}

	restored, err := st.UndoTransaction(ctx, created.Transaction.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if restored.Transaction.IsDeleted || restored.Balance != 100 {
		t.Fatalf("expected live transaction and balance 100, got %+v", restored)
	}
	if restored.Transaction.ID != created.Transaction.ID || restored.Transaction.Amount != 100 || restored.Transaction.Type != ledger.Deposit {
		t.Fatalf("undo changed the record: %+v", restored.Transaction)
	}
	if storetest.Balance(t, pool, userID) != 100 {
		t.Fatalf("expected stored balance 100")
	}
}

func TestCreateTransactionUnknownUser(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)

	_, err := st.CreateTransaction(testContext(t), store.CreateTransactionInput{
		Type:   ledger.Deposit,
		Amount: 50,
		UserID: "missing",
		MadeBy: "admin-1",
	})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if n := storetest.TransactionCount(t, pool, "missing"); n != 0 {
		t.Fatalf("expected no transaction rows, got %d", n)
	}
}

func TestDeleteAlreadyDeleted(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	created := deposit(t, st, userID, 70)

	if _, err := st.DeleteTransaction(ctx, created.Transaction.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if _, err := st.DeleteTransaction(ctx, created.Transaction.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestUndoLiveOrMissingTransaction(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	created := deposit(t, st, userID, 40)

	if _, err := st.UndoTransaction(ctx, created.Transaction.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound undoing a live transaction, got %v", err)
	}
	if _, err := st.UndoTransaction(ctx, "does-not-exist"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound undoing a missing transaction, got %v", err)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 40 {
		t.Fatalf("expected balance 40, got %d", balance)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	deposit(t, st, userID, 300)

	withdrawal, err := st.CreateTransaction(ctx, store.CreateTransactionInput{
		Type:   ledger.Withdrawal,
		Amount: 120,
		UserID: userID,
		MadeBy: "treasurer-1",
	})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if withdrawal.Balance != 180 {
		t.Fatalf("expected balance 180, got %d", withdrawal.Balance)
	}

	if _, err := st.DeleteTransaction(ctx, withdrawal.Transaction.ID); err != nil {
		t.Fatalf("delete withdrawal: %v", err)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 300 {
		t.Fatalf("expected balance 300 after deleting withdrawal, got %d", balance)
	}

	if _, err := st.UndoTransaction(ctx, withdrawal.Transaction.ID); err != nil {
		t.Fatalf("undo withdrawal: %v", err)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 180 {
		t.Fatalf("expected balance 180 after undo, got %d", balance)
	}
}

func TestWithdrawalInsufficientBalance(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	deposit(t, st, userID, 100)

	_, err := st.CreateTransaction(testContext(t), store.CreateTransactionInput{
		Type:   ledger.Withdrawal,
		Amount: 101,
		UserID: userID,
		MadeBy: "treasurer-1",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if n := storetest.TransactionCount(t, pool, userID); n != 1 {
		t.Fatalf("expected 1 transaction row, got %d", n)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestDepositBalanceOverflow(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, math.MaxInt64-5)

	_, err := st.CreateTransaction(testContext(t), store.CreateTransactionInput{
		Type:   ledger.Deposit,
		Amount: 10,
		UserID: userID,
		MadeBy: "treasurer-1",
	})
	if !errors.Is(err, store.ErrBalanceOutOfRange) {
		t.Fatalf("expected ErrBalanceOutOfRange, got %v", err)
	}
	if n := storetest.TransactionCount(t, pool, userID); n != 0 {
		t.Fatalf("expected no transaction rows, got %d", n)
	}
	if balance := storetest.Balance(t, pool, userID); balance != math.MaxInt64-5 {
		t.Fatalf("expected balance unchanged, got %d", balance)
	}
}

func TestConcurrentDeposits(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateTransaction(context.Background(), store.CreateTransactionInput{
				Type:   ledger.Deposit,
				Amount: 50,
				UserID: userID,
				MadeBy: "treasurer-1",
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent deposit: %v", err)
		}
	}

	if balance := storetest.Balance(t, pool, userID); balance != workers*50 {
		t.Fatalf("expected balance %d, got %d", workers*50, balance)
	}
}

func TestConcurrentDeleteReversesOnce(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	deposit(t, st, userID, 30)
	target := deposit(t, st, userID, 100)

	const workers = 5
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.DeleteTransaction(context.Background(), target.Transaction.ID)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	deleted := 0
	for err := range results {
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, store.ErrNotFound):
		default:
			t.Fatalf("unexpected delete error: %v", err)
		}
	}

	if deleted != 1 {
		t.Fatalf("expected exactly 1 successful delete, got %d", deleted)
	}
	if balance := storetest.Balance(t, pool, userID); balance != 30 {
		t.Fatalf("expected balance 30, got %d", balance)
	}
}

func TestListUserTransactionsOrderAndIdempotence(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)
	other := storetest.SeedUser(t, pool, storetest.RoleMember, 0)

	first := deposit(t, st, userID, 10)
	second := deposit(t, st, userID, 20)
	removed := deposit(t, st, userID, 30)
	deposit(t, st, other, 99)

	if _, err := st.DeleteTransaction(ctx, removed.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	list1, err := st.ListUserTransactions(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	list2, err := st.ListUserTransactions(ctx, userID)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}

	if len(list1) != 2 {
		t.Fatalf("expected 2 live transactions, got %d", len(list1))
	}
	if list1[0].ID != second.Transaction.ID || list1[1].ID != first.Transaction.ID {
		t.Fatalf("expected newest first, got %s then %s", list1[0].ID, list1[1].ID)
	}
	for i := range list1 {
		if list1[i].ID != list2[i].ID {
			t.Fatalf("repeated reads differ at %d: %s vs %s", i, list1[i].ID, list2[i].ID)
		}
	}
	if list1[0].Email != userID+"@example.com" {
		t.Fatalf("expected owner email, got %q", list1[0].Email)
	}

	empty, err := st.ListUserTransactions(ctx, "nobody")
	if err != nil {
		t.Fatalf("list unknown user: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", empty)
	}

	all, err := st.ListTransactions(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 live transactions overall, got %d", len(all))
	}

	audit, err := st.ListTransactions(ctx, true)
	if err != nil {
		t.Fatalf("list all including deleted: %v", err)
	}
	if len(audit) != 4 {
		t.Fatalf("expected 4 transactions including deleted, got %d", len(audit))
	}
}

func TestReconcileAfterMixedOperations(t *testing.T) {
	pool := storetest.Open(t)
	st := store.New(pool)
	ctx := testContext(t)

	userID := storetest.SeedUser(t, pool, storetest.RoleMember, 0)

	a := deposit(t, st, userID, 500)
	b := deposit(t, st, userID, 250)
	if _, err := st.CreateTransaction(ctx, store.CreateTransactionInput{
		Type: ledger.Withdrawal, Amount: 200, UserID: userID, MadeBy: "treasurer-1",
	}); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if _, err := st.DeleteTransaction(ctx, a.Transaction.ID); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	if _, err := st.DeleteTransaction(ctx, b.Transaction.ID); err != nil {
		t.Fatalf("delete b: %v", err)
	}
	if _, err := st.UndoTransaction(ctx, b.Transaction.ID); err != nil {
		t.Fatalf("undo b: %v", err)
	}

	r, err := st.Reconcile(ctx, userID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !r.Consistent() || r.Cached != 50 {
		t.Fatalf("expected consistent balance 50, got %+v", r)
	}
	if r.LiveCount != 2 || r.DeletedCount != 1 {
		t.Fatalf("expected 2 live and 1 deleted, got %+v", r)
	}

	drifted := storetest.SeedUser(t, pool, storetest.RoleMember, 999)
	r, err = st.Reconcile(ctx, drifted)
	if err != nil {
		t.Fatalf("reconcile drifted: %v", err)
	}
	if r.Consistent() {
		t.Fatalf("expected drift to be reported, got %+v", r)
	}

	if _, err := st.Reconcile(ctx, "missing"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
