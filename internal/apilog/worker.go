package apilog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/swarmgate/backend/internal/models"
)

type RecordArgs struct {
	LogID    uuid.UUID       `json:"log_id"`
	UserID   uuid.UUID       `json:"user_id"`
	Category string          `json:"category"`
	Data     json.RawMessage `json:"data"`
}

func (RecordArgs) Kind() string { return "record_api_log" }

// Store is the persistence the worker and the read path need.
type Store interface {
	Create(ctx context.Context, l *models.APILog) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.APILog, error)
}

type RecordWorker struct {
	river.WorkerDefaults[RecordArgs]
	store Store
}

func NewRecordWorker(store Store) *RecordWorker {
	return &RecordWorker{store: store}
}

func (w *RecordWorker) Work(ctx context.Context, job *river.Job[RecordArgs]) error {
	args := job.Args
	entry := &models.APILog{
		ID:       args.LogID,
		UserID:   args.UserID,
		Category: args.Category,
		Data:     args.Data,
	}
	if err := w.store.Create(ctx, entry); err != nil {
		// returned errors make River retry with backoff
		return fmt.Errorf("persist api log %s: %w", args.LogID, err)
	}
	return nil
}
