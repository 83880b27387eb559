// Package apilog records what callers asked the gateway to do. Writes go
// through a River job so a slow or failing log store never delays a response.
package apilog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/swarmgate/backend/internal/models"
)

const (
	CategorySwarmCompletion = "swarm_completion"
	CategoryBatchCompletion = "batch_completion"
	CategoryAgentCompletion = "agent_completion"
	CategorySchedule        = "schedule"
	CategoryCancelSchedule  = "cancel_schedule"
)

// InsertFunc enqueues a record job. main wires it to river.Client.Insert.
type InsertFunc func(ctx context.Context, args RecordArgs) error

type Service struct {
	insert InsertFunc
	store  Store
	logger *slog.Logger
}

func NewService(insert InsertFunc, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{insert: insert, store: store, logger: logger}
}

// Record enqueues data for the caller's log. Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, userID uuid.UUID, category string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("api log payload not encodable", "category", category, "error", err)
		return
	}
	args := RecordArgs{LogID: uuid.New(), UserID: userID, Category: category, Data: raw}
	if err := s.insert(context.WithoutCancel(ctx), args); err != nil {
		s.logger.Warn("enqueue api log failed", "category", category, "user_id", userID, "error", err)
	}
}

// List returns the caller's most recent log entries, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.APILog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListByUserID(ctx, userID, limit)
}
