package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/swarmgate/backend/internal/auth"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// CallerAuth resolves the caller from the x-api-key header, falling back to
// an "Authorization: Bearer" session token. Unknown or missing credentials
// are rejected with 403.
func CallerAuth(svc auth.Service, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				caller uuid.UUID
				err    error
			)
			if raw := r.Header.Get("x-api-key"); raw != "" {
				caller, err = svc.Authenticate(r.Context(), raw)
			} else if tok := extractBearer(r); tok != "" {
				caller, err = svc.ValidateToken(r.Context(), tok)
			} else {
				writeError(w, http.StatusForbidden, "missing api key")
				return
			}
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					writeError(w, http.StatusForbidden, "invalid api key")
					return
				}
				log.Error("caller lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// CallerFromCtx returns the authenticated caller id, or uuid.Nil.
func CallerFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxCallerKey).(uuid.UUID)
	return id
}

// WithCaller returns a context carrying the given caller id.
func WithCaller(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxCallerKey, id)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": msg})
}
