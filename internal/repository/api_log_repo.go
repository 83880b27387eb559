package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swarmgate/backend/internal/models"
)

// APILogRepo persists per-request audit rows in api_logs.
type APILogRepo struct {
	pool *pgxpool.Pool
}

func NewAPILogRepo(pool *pgxpool.Pool) *APILogRepo {
	return &APILogRepo{pool: pool}
}

// Create is idempotent on id so a retried record job does not fail on its
// own earlier insert.
func (r *APILogRepo) Create(ctx context.Context, l *models.APILog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_logs (id, user_id, category, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, l.ID, l.UserID, l.Category, l.Data)
	return err
}

func (r *APILogRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.APILog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, category, data, created_at
		FROM api_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.APILog{}
	for rows.Next() {
		var l models.APILog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Category, &l.Data, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
