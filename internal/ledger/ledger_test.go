package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory store whose writes only land on Commit. GetByIDForUpdate holds a
// per-account lock until the transaction ends, like SELECT ... FOR UPDATE.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type memTx struct {
	noopTx
	store   *memStore
	pending []func()
	locked  []*sync.Mutex
	done    bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.store.mu.Lock()
	if t.store.failCommit {
		t.store.mu.Unlock()
		t.release()
		return errors.New("commit failed")
	}
	for _, f := range t.pending {
		f()
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.release()
	}
	return nil
}

func (t *memTx) release() {
	t.done = true
	for _, l := range t.locked {
		l.Unlock()
	}
	t.locked = nil
}

type memStore struct {
	mu         sync.Mutex
	rowLocks   map[uuid.UUID]*sync.Mutex
	accounts   map[uuid.UUID]models.CreditAccount
	txns       []*models.CreditTransaction
	failInsert bool
	failCommit bool
}

func newMemStore(accs ...models.CreditAccount) *memStore {
	s := &memStore{rowLocks: map[uuid.UUID]*sync.Mutex{}, accounts: map[uuid.UUID]models.CreditAccount{}}
	for _, a := range accs {
		s.accounts[a.UserID] = a
		s.rowLocks[a.UserID] = &sync.Mutex{}
	}
	return s
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) { return &memTx{store: s}, nil }

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (s *memStore) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditAccount, error) {
	s.mu.Lock()
	l, ok := s.rowLocks[id]
	s.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	l.Lock()
	mt := tx.(*memTx)
	mt.locked = append(mt.locked, l)
	s.mu.Lock()
	a := s.accounts[id]
	s.mu.Unlock()
	return &a, nil
}

func (s *memStore) UpdateBalancesTx(_ context.Context, tx pgx.Tx, id uuid.UUID, free, credit decimal.Decimal) error {
	mt := tx.(*memTx)
	mt.pending = append(mt.pending, func() {
		a := s.accounts[id]
		a.FreeCredit, a.Credit = free, credit
		s.accounts[id] = a
	})
	return nil
}

func (s *memStore) CreateTx(_ context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	if s.failInsert {
		return errors.New("insert failed")
	}
	cp := *c
	mt := tx.(*memTx)
	mt.pending = append(mt.pending, func() { s.txns = append(s.txns, &cp) })
	return nil
}

func (s *memStore) ListByUserID(_ context.Context, id uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txns[i].UserID == id {
			out = append(out, s.txns[i])
		}
	}
	return out, nil
}

func (s *memStore) balances(id uuid.UUID) (decimal.Decimal, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[id]
	return a.FreeCredit, a.Credit
}

func (s *memStore) txnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func account(id uuid.UUID, free, paid string) models.CreditAccount {
	return models.CreditAccount{UserID: id, FreeCredit: d(free), Credit: d(paid)}
}

func newTestService(s *memStore) Service { return NewService(s, s, s) }

// ---------------------------------------------------------------------------
// Deduct
// ---------------------------------------------------------------------------

func TestDeduct_PromotionalFirst(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "5", "10"))
	svc := newTestService(store)

	rec, err := svc.Deduct(context.Background(), user, d("12"), "swarm_execution_demo")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	free, paid := store.balances(user)
	if !free.IsZero() || !paid.Equal(d("3")) {
		t.Errorf("balances: got free=%s paid=%s, want 0/3", free, paid)
	}
	if !rec.FromFree.Equal(d("5")) || !rec.FromCredit.Equal(d("7")) {
		t.Errorf("split: got %s/%s, want 5/7", rec.FromFree, rec.FromCredit)
	}
	if rec.Memo != "swarm_execution_demo" {
		t.Errorf("memo: got %q", rec.Memo)
	}
	if store.txnCount() != 1 {
		t.Errorf("transactions: got %d, want 1", store.txnCount())
	}
}

func TestDeduct_FullyFromPromotional(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "1.5", "2"))
	svc := newTestService(store)

	if _, err := svc.Deduct(context.Background(), user, d("0.25"), "m"); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	free, paid := store.balances(user)
	if !free.Equal(d("1.25")) || !paid.Equal(d("2")) {
		t.Errorf("balances: got %s/%s, want 1.25/2", free, paid)
	}
}

func TestDeduct_InsufficientCreditLeavesBalances(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "5", "10"))
	svc := newTestService(store)

	_, err := svc.Deduct(context.Background(), user, d("20"), "m")
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	free, paid := store.balances(user)
	if !free.Equal(d("5")) || !paid.Equal(d("10")) {
		t.Errorf("balances changed: %s/%s", free, paid)
	}
	if store.txnCount() != 0 {
		t.Errorf("no transaction should be recorded, got %d", store.txnCount())
	}
}

func TestDeduct_UnknownAccount(t *testing.T) {
	svc := newTestService(newMemStore())
	if _, err := svc.Deduct(context.Background(), uuid.New(), d("1"), "m"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDeduct_ZeroAndNegative(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "1", "1"))
	svc := newTestService(store)

	rec, err := svc.Deduct(context.Background(), user, decimal.Zero, "m")
	if err != nil || rec != nil {
		t.Errorf("zero charge: got rec=%v err=%v, want nil/nil", rec, err)
	}
	if store.txnCount() != 0 {
		t.Error("zero charge must not write")
	}
	if _, err := svc.Deduct(context.Background(), user, d("-1"), "m"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDeduct_FailedInsertRollsBack(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "5", "5"))
	store.failInsert = true
	svc := newTestService(store)

	if _, err := svc.Deduct(context.Background(), user, d("1"), "m"); err == nil {
		t.Fatal("expected error")
	}
	free, paid := store.balances(user)
	if !free.Equal(d("5")) || !paid.Equal(d("5")) {
		t.Errorf("balances changed without audit row: %s/%s", free, paid)
	}
}

func TestDeduct_FailedCommitRollsBack(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "5", "5"))
	store.failCommit = true
	svc := newTestService(store)

	if _, err := svc.Deduct(context.Background(), user, d("1"), "m"); err == nil {
		t.Fatal("expected error")
	}
	if store.txnCount() != 0 {
		t.Error("no transaction should survive a failed commit")
	}
}

// ---------------------------------------------------------------------------
// Concurrent deductions never overdraw.
// ---------------------------------------------------------------------------

func TestDeduct_ConcurrentNeverOverdraws(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "10", "20"))
	svc := newTestService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(context.Background(), user, d("1"), "m")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientCredit):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 30 || short != 20 {
		t.Errorf("got %d ok / %d insufficient, want 30/20", ok, short)
	}
	free, paid := store.balances(user)
	if !free.IsZero() || !paid.IsZero() {
		t.Errorf("final balances: %s/%s, want 0/0", free, paid)
	}
	if store.txnCount() != 30 {
		t.Errorf("transactions: got %d, want 30", store.txnCount())
	}
}

func TestBalanceAndTransactions(t *testing.T) {
	user := uuid.New()
	store := newMemStore(account(user, "2", "3"))
	svc := newTestService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Deduct(ctx, user, d("0.5"), "m"); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
	}
	acc, err := svc.Balance(ctx, user)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !acc.Available().Equal(d("3.5")) {
		t.Errorf("available: got %s, want 3.5", acc.Available())
	}
	list, err := svc.Transactions(ctx, user, 2)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("limit not applied: got %d", len(list))
	}
	if _, err := svc.Balance(ctx, uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
