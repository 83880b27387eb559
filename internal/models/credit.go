package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditTransaction is the immutable audit row written with every deduction.
type CreditTransaction struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	FromFree   decimal.Decimal `json:"from_free_credit"`
	FromCredit decimal.Decimal `json:"from_credit"`
	Memo       string          `json:"product_name"`
	CreatedAt  time.Time       `json:"created_at"`
}
