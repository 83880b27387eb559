package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/swarmgate/backend/db/migrations"
	"github.com/swarmgate/backend/internal/account"
	"github.com/swarmgate/backend/internal/apilog"
	"github.com/swarmgate/backend/internal/auth"
	"github.com/swarmgate/backend/internal/cache"
	"github.com/swarmgate/backend/internal/catalog"
	"github.com/swarmgate/backend/internal/config"
	"github.com/swarmgate/backend/internal/cost"
	"github.com/swarmgate/backend/internal/engine"
	"github.com/swarmgate/backend/internal/gateway"
	"github.com/swarmgate/backend/internal/handlers"
	"github.com/swarmgate/backend/internal/ledger"
	"github.com/swarmgate/backend/internal/middleware"
	"github.com/swarmgate/backend/internal/repository"
	"github.com/swarmgate/backend/internal/router"
	"github.com/swarmgate/backend/internal/scheduler"
	"github.com/swarmgate/backend/internal/services"
	"github.com/swarmgate/backend/internal/tokens"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := migrations.Apply(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	apiLogRepo := repository.NewAPILogRepo(pool)

	ledgerSvc := ledger.NewService(pool, accountRepo, creditRepo)

	// Request log: insert func is set after the River client is created.
	var insertMu sync.Mutex
	var insertFn apilog.InsertFunc
	insertRecord := func(ctx context.Context, args apilog.RecordArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, args)
	}
	logSvc := apilog.NewService(insertRecord, apiLogRepo, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, apilog.NewRecordWorker(apiLogRepo))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Database.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args apilog.RecordArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Gateway core
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		slog.Error("Failed to load model catalog", "error", err)
		os.Exit(1)
	}
	counter := tokens.NewHeuristic()

	estimator, err := cost.FromConfig(cfg.Billing, counter, cost.WithLogger(logger))
	if err != nil {
		slog.Error("Invalid billing configuration", "error", err)
		os.Exit(1)
	}

	validator, err := services.NewValidator(cat, counter, cfg.Gateway.MaxPromptTokens)
	if err != nil {
		slog.Error("Failed to build job spec validator", "error", err)
		os.Exit(1)
	}

	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Cannot reach Redis for the response cache", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		store = cache.NewRedis(rdb, cfg.Cache.RedisPrefix, cfg.Cache.TTL, cfg.Cache.MaxEntries)
	default:
		store = cache.NewMemory(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}
	slog.Info("Response cache ready", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)

	eng := engine.NewHTTPEngine(cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.Timeout)

	orch := gateway.New(validator, eng, estimator, ledgerSvc, store, gateway.Config{
		AgentConcurrency: cfg.Gateway.AgentConcurrency,
		FlexMaxAttempts:  cfg.Gateway.FlexMaxAttempts,
		FlexBaseDelay:    cfg.Gateway.FlexBaseDelay,
		EvictInterval:    cfg.Cache.EvictInterval,
		MaxBatchSize:     cfg.Gateway.MaxBatchSize,
	}, gateway.WithLogger(logger))

	sched := scheduler.New(orch, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		MissedAfter:  cfg.Scheduler.MissedAfter,
	}, scheduler.WithLogger(logger), scheduler.WithValidator(validator))

	// HTTP
	authSvc := auth.NewService(apiKeyRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	api := router.New(router.Deps{
		Swarm: &handlers.SwarmHandler{
			Runner:    orch,
			Validator: validator,
			Scheduler: sched,
			Logs:      logSvc,
			Catalog:   cat,
			Logger:    logger,
		},
		Account:  account.NewHandler(ledgerSvc, apiKeyRepo, logger),
		Auth:     auth.NewHandler(authSvc, logger),
		AuthSvc:  authSvc,
		Balances: ledgerSvc,
		Limiter:  middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Logger:   logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Cache", "Retry-After"},
		AllowCredentials: true,
	}).Handler(api)

	// Background work
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	sched.Stop()
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}
