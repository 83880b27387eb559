package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/backend/internal/models"
)

var (
	// ErrAccountNotFound is returned when the caller has no credit record.
	ErrAccountNotFound = errors.New("credit account not found")
	// ErrInsufficientCredit is returned when promotional plus paid credit is below the charge.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount is returned for negative charges.
	ErrInvalidAmount = errors.New("charge amount must not be negative")
)

// MoneyPlaces is the number of decimal places kept on every charge.
const MoneyPlaces = 6

// AccountRepo is the minimal account repository interface for the ledger.
type AccountRepo interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error)
	UpdateBalancesTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, freeCredit, credit decimal.Decimal) error
}

// TransactionRepo is the minimal audit trail interface for the ledger.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// TxBeginner starts a database transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service interface {
	// Deduct charges amount against the caller, promotional credit first.
	// A zero amount succeeds without touching the store and returns a nil record.
	Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, memo string) (*models.CreditTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type service struct {
	db       TxBeginner
	accounts AccountRepo
	txns     TransactionRepo
}

func NewService(db TxBeginner, accounts AccountRepo, txns TransactionRepo) Service {
	return &service{db: db, accounts: accounts, txns: txns}
}

var _ Service = (*service)(nil)

func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, memo string) (*models.CreditTransaction, error) {
	amount = amount.Round(MoneyPlaces)
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin deduct: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if acc.Available().LessThan(amount) {
		return nil, ErrInsufficientCredit
	}

	fromFree := decimal.Min(acc.FreeCredit, amount)
	if fromFree.IsNegative() {
		fromFree = decimal.Zero
	}
	fromCredit := amount.Sub(fromFree)

	rec := &models.CreditTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		Amount:     amount,
		FromFree:   fromFree,
		FromCredit: fromCredit,
		Memo:       memo,
	}
	// The audit row goes in before the balance moves.
	if err := s.txns.CreateTx(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	if err := s.accounts.UpdateBalancesTx(ctx, tx, userID, acc.FreeCredit.Sub(fromFree), acc.Credit.Sub(fromCredit)); err != nil {
		return nil, fmt.Errorf("update balances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit deduct: %w", err)
	}
	return rec, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	acc, err := s.accounts.GetByID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.txns.ListByUserID(ctx, userID, limit)
}
