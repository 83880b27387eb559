package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// APILog is one recorded request (completion, batch, schedule, cancel).
type APILog struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Category  string          `json:"category"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
