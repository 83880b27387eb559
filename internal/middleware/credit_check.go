package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/swarmgate/backend/internal/ledger"
	"github.com/swarmgate/backend/internal/models"
)

// BalanceReader is the slice of the ledger CreditCheck needs.
type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
}

// CreditCheck turns away callers with nothing left to spend before any
// engine work starts. The exact charge is still settled by the ledger after
// execution. Must run after CallerAuth.
func CreditCheck(balances BalanceReader, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromCtx(r.Context())
			if caller == uuid.Nil {
				writeError(w, http.StatusForbidden, "missing api key")
				return
			}
			acc, err := balances.Balance(r.Context(), caller)
			switch {
			case errors.Is(err, ledger.ErrAccountNotFound):
				writeError(w, http.StatusNotFound, "credit account not found")
				return
			case err != nil:
				log.Error("balance lookup failed", "caller", caller, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			case !acc.Available().IsPositive():
				writeError(w, http.StatusPaymentRequired, "insufficient credit")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
