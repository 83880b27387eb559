// Package account serves the caller's own credit balance and API keys.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swarmgate/backend/internal/auth"
	"github.com/swarmgate/backend/internal/ledger"
	"github.com/swarmgate/backend/internal/middleware"
	"github.com/swarmgate/backend/internal/models"
)

const keyPrefix = "sk-"

type Ledger interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	Deactivate(ctx context.Context, userID, id uuid.UUID) error
}

type Handler struct {
	ledger Ledger
	keys   KeyStore
	log    *slog.Logger
}

func NewHandler(l Ledger, keys KeyStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: l, keys: keys, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "detail": msg})
}

// GET /v1/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	acc, err := h.ledger.Balance(r.Context(), caller)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "no credit record found for this caller")
		return
	}
	if err != nil {
		h.log.Error("get balance failed", "caller", caller, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.ledger.Transactions(r.Context(), caller, limit)
	if err != nil {
		h.log.Error("list transactions failed", "caller", caller, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if txns == nil {
		txns = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"free_credit":  acc.FreeCredit,
		"credit":       acc.Credit,
		"available":    acc.Available(),
		"transactions": txns,
	})
}

// GET /v1/keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	keys, err := h.keys.ListByUserID(r.Context(), caller)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// POST /v1/keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		writeError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	rawKey := keyPrefix + hex.EncodeToString(rawBytes)

	k := &models.APIKey{
		ID:        uuid.New(),
		UserID:    caller,
		KeyHash:   auth.HashKey(rawKey),
		KeyPrefix: rawKey[:12],
		IsActive:  true,
	}
	if err := h.keys.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    rawKey,
	})
}

// DELETE /v1/keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	err = h.keys.Deactivate(r.Context(), caller, keyID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		h.log.Error("revoke api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
