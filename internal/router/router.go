package router

import (
	"log/slog"
	"net/http"

	"github.com/swarmgate/backend/internal/account"
	"github.com/swarmgate/backend/internal/auth"
	"github.com/swarmgate/backend/internal/handlers"
	"github.com/swarmgate/backend/internal/metrics"
	"github.com/swarmgate/backend/internal/middleware"
)

type Deps struct {
	Swarm    *handlers.SwarmHandler
	Account  *account.Handler
	Auth     *auth.Handler
	AuthSvc  auth.Service
	Balances middleware.BalanceReader
	Limiter  *middleware.RateLimiter
	Logger   *slog.Logger
}

// New returns the public API handler.
//
// Chains: open routes go straight to the handler, catalog and token routes
// are rate limited, caller routes add CallerAuth, and routes that start
// paid work add CreditCheck.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	limited := d.Limiter.Middleware
	caller := func(h http.HandlerFunc) http.Handler {
		return limited(middleware.CallerAuth(d.AuthSvc, d.Logger)(h))
	}
	paid := func(h http.HandlerFunc) http.Handler {
		return limited(middleware.CallerAuth(d.AuthSvc, d.Logger)(middleware.CreditCheck(d.Balances, d.Logger)(h)))
	}

	mux.HandleFunc("GET /{$}", d.Swarm.Root)
	mux.HandleFunc("GET /health", d.Swarm.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /v1/swarms/available", limited(http.HandlerFunc(d.Swarm.SwarmsAvailable)))
	mux.Handle("GET /v1/models/available", limited(http.HandlerFunc(d.Swarm.ModelsAvailable)))
	mux.Handle("POST /v1/auth/token", limited(http.HandlerFunc(d.Auth.IssueToken)))

	mux.Handle("POST /v1/swarm/completions", paid(d.Swarm.SwarmCompletion))
	mux.Handle("POST /v1/swarm/batch/completions", paid(d.Swarm.BatchCompletion))
	mux.Handle("POST /v1/agent/completions", paid(d.Swarm.AgentCompletion))
	mux.Handle("GET /v1/swarm/logs", caller(d.Swarm.ListLogs))

	mux.Handle("POST /v1/swarm/schedule", paid(d.Swarm.Schedule))
	mux.Handle("GET /v1/swarm/schedule", caller(d.Swarm.ListScheduled))
	mux.Handle("DELETE /v1/swarm/schedule/{job_id}", caller(d.Swarm.CancelScheduled))

	mux.Handle("GET /v1/credits", caller(d.Account.GetCredits))
	mux.Handle("GET /v1/keys", caller(d.Account.ListAPIKeys))
	mux.Handle("POST /v1/keys", caller(d.Account.CreateAPIKey))
	mux.Handle("DELETE /v1/keys/{id}", caller(d.Account.RevokeAPIKey))

	return middleware.Instrument(mux)
}
