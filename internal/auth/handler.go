package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// IssueToken exchanges the x-api-key header for a bearer session token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("x-api-key")
	if raw == "" {
		writeError(w, http.StatusForbidden, "missing x-api-key header")
		return
	}
	token, exp, err := h.svc.IssueToken(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			writeError(w, http.StatusForbidden, "invalid api key")
			return
		}
		h.log.Error("issue token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: exp})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
