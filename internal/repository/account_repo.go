package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `user_id, free_credit, credit, updated_at`

func scanAccount(row pgx.Row) (*models.CreditAccount, error) {
	var a models.CreditAccount
	if err := row.Scan(&a.UserID, &a.FreeCredit, &a.Credit, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create opens a credit account. Used by provisioning tooling and integration tests.
func (r *AccountRepo) Create(ctx context.Context, a *models.CreditAccount) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO credit_accounts (user_id, free_credit, credit)
		VALUES ($1, $2, $3)
		RETURNING updated_at
	`, a.UserID, a.FreeCredit, a.Credit).Scan(&a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error) {
	return scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, userID))
}

// UpdateBalancesTx sets both balances. Call after GetByIDForUpdate in the same tx.
func (r *AccountRepo) UpdateBalancesTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, freeCredit, credit decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET free_credit = $2, credit = $3, updated_at = now()
		WHERE user_id = $1
	`, userID, freeCredit, credit)
	return err
}
