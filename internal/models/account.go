package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditAccount is the prepaid balance of one caller. FreeCredit is promotional
// credit and is always consumed before Credit.
type CreditAccount struct {
	UserID     uuid.UUID       `json:"user_id"`
	FreeCredit decimal.Decimal `json:"free_credit"`
	Credit     decimal.Decimal `json:"credit"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Available returns promotional plus paid balance.
func (a *CreditAccount) Available() decimal.Decimal {
	return a.FreeCredit.Add(a.Credit)
}
