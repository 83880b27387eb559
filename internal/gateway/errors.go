package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/swarmgate/backend/internal/cost"
	"github.com/swarmgate/backend/internal/ledger"
	"github.com/swarmgate/backend/internal/services"
)

// ErrNotFound is returned for unknown or foreign resources.
var ErrNotFound = errors.New("not found")

// HTTPStatus maps an error from this package or its collaborators to a status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the caller-facing text for err. Internal failures collapse
// to a generic message; details stay in the server log.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return err.Error()
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return "insufficient credit to cover this execution"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "no credit record found for this caller"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, cost.ErrComputation):
		return "failed to compute execution cost"
	case errors.Is(err, context.DeadlineExceeded):
		return "execution timed out"
	default:
		return "internal server error"
	}
}
