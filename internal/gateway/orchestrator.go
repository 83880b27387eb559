// Package gateway runs job specs end to end: validate, cache, execute, meter,
// charge.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/swarmgate/backend/internal/cache"
	"github.com/swarmgate/backend/internal/cost"
	"github.com/swarmgate/backend/internal/engine"
	"github.com/swarmgate/backend/internal/metrics"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/services"
)

// MemoPrefix prefixes the product name recorded with every charge.
const MemoPrefix = "swarm_execution_"

type Validator interface {
	Validate(spec *models.JobSpec) error
}

type Estimator interface {
	Estimate(agents []cost.Agent, taskText string, execTime time.Duration, output models.Output, tier models.ServiceTier) (*models.CostBreakdown, error)
}

type Ledger interface {
	Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, memo string) (*models.CreditTransaction, error)
}

type Config struct {
	AgentConcurrency int
	FlexMaxAttempts  int
	FlexBaseDelay    time.Duration
	EvictInterval    time.Duration
	MaxBatchSize     int
}

func (c *Config) applyDefaults() {
	if c.AgentConcurrency <= 0 {
		c.AgentConcurrency = 8
	}
	if c.FlexMaxAttempts <= 0 {
		c.FlexMaxAttempts = 3
	}
	if c.FlexBaseDelay <= 0 {
		c.FlexBaseDelay = 5 * time.Second
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = time.Minute
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 20
	}
}

// Result carries the serialized envelope. Cached is true when it came from
// the response cache and nothing was executed or charged.
type Result struct {
	Envelope json.RawMessage
	Cached   bool
}

type Orchestrator struct {
	validator Validator
	engine    engine.Engine
	estimator Estimator
	ledger    Ledger
	cache     cache.Store
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	evictMu   sync.Mutex
	lastEvict time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now and the retry sleep, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func New(v Validator, eng engine.Engine, est Estimator, l Ledger, c cache.Store, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		validator: v,
		engine:    eng,
		estimator: est,
		ledger:    l,
		cache:     c,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.lastEvict = o.now()
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes spec on behalf of callerID. A returned error means no envelope
// was produced; when it wraps a ledger error the engine work has already
// happened and is not billed.
func (o *Orchestrator) Run(ctx context.Context, callerID uuid.UUID, spec *models.JobSpec) (*Result, error) {
	if err := o.validator.Validate(spec); err != nil {
		metrics.JobTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	o.maybeEvict(ctx)
	key := cache.Key(callerID, cache.Fingerprint(spec))
	if entry, ok, err := o.cache.Get(ctx, key); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		o.logger.Warn("cache lookup failed, executing", "swarm", spec.Name, "error", err)
	} else if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		metrics.JobTotal.WithLabelValues("cached").Inc()
		return &Result{Envelope: entry.Body, Cached: true}, nil
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	agents, err := o.buildAgents(ctx, spec.Agents)
	if err != nil {
		metrics.JobTotal.WithLabelValues("engine_error").Inc()
		return nil, fmt.Errorf("construct agents: %w", err)
	}

	tier := spec.Tier()
	start := o.now()
	res, err := o.execute(ctx, tier, engine.NewRequest(spec, agents))
	elapsed := o.now().Sub(start)
	metrics.JobDuration.WithLabelValues(string(tier)).Observe(elapsed.Seconds())
	if err != nil {
		metrics.JobTotal.WithLabelValues("engine_error").Inc()
		return nil, fmt.Errorf("execute swarm %q: %w", spec.Name, err)
	}

	costs, err := o.estimator.Estimate(costAgents(agents, res), spec.TaskText(), elapsed, res.Output, tier)
	if err != nil {
		metrics.JobTotal.WithLabelValues("billing_error").Inc()
		o.logger.Error("cost estimation failed after execution", "swarm", spec.Name, "caller", callerID, "error", err)
		return nil, err
	}
	if _, err := o.ledger.Deduct(ctx, callerID, costs.TotalCost, MemoPrefix+spec.Name); err != nil {
		metrics.JobTotal.WithLabelValues("billing_error").Inc()
		o.logger.Error("credit deduction failed after execution", "swarm", spec.Name, "caller", callerID, "amount", costs.TotalCost, "error", err)
		return nil, fmt.Errorf("charge swarm %q: %w", spec.Name, err)
	}
	metrics.TokensTotal.WithLabelValues("input").Add(float64(costs.TokenCounts.TotalInputTokens))
	metrics.TokensTotal.WithLabelValues("output").Add(float64(costs.TokenCounts.TotalOutputTokens))
	metrics.CreditsCharged.Add(costs.TotalCost.InexactFloat64())

	finished := o.now().UTC()
	env := models.Envelope{
		JobID:          fmt.Sprintf("swarm_%s_%d", spec.Name, finished.Unix()),
		Status:         models.StatusSuccess,
		SwarmName:      spec.Name,
		Description:    spec.Description,
		SwarmType:      spec.SwarmType,
		ServiceTier:    tier,
		Task:           spec.TaskText(),
		Output:         res.Output,
		NumberOfAgents: len(agents),
		Costs:          costs,
		InputConfig:    spec,
		ExecutionTime:  costs.ExecutionTimeSeconds,
		ExecutedAt:     finished,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := o.cache.Put(ctx, key, body); err != nil {
		o.logger.Warn("cache store failed", "swarm", spec.Name, "error", err)
	}
	metrics.JobTotal.WithLabelValues("success").Inc()
	return &Result{Envelope: body}, nil
}

// RunBatch runs specs in order. A failing item becomes an error envelope in
// its slot; only an oversized batch fails as a whole.
func (o *Orchestrator) RunBatch(ctx context.Context, callerID uuid.UUID, specs []*models.JobSpec) ([]json.RawMessage, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", services.ErrValidation)
	}
	if len(specs) > o.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", services.ErrValidation, len(specs), o.cfg.MaxBatchSize)
	}
	out := make([]json.RawMessage, len(specs))
	for i, spec := range specs {
		res, err := o.Run(ctx, callerID, spec)
		if err == nil {
			out[i] = res.Envelope
			continue
		}
		name := ""
		if spec != nil {
			name = spec.Name
		}
		if HTTPStatus(err) == http.StatusInternalServerError {
			o.logger.Error("batch item failed", "index", i, "swarm", name, "error", err)
		}
		b, _ := json.Marshal(models.NewErrorEnvelope(name, HTTPStatus(err), PublicMessage(err)))
		out[i] = b
	}
	return out, nil
}

func (o *Orchestrator) maybeEvict(ctx context.Context) {
	now := o.now()
	o.evictMu.Lock()
	if now.Sub(o.lastEvict) < o.cfg.EvictInterval {
		o.evictMu.Unlock()
		return
	}
	o.lastEvict = now
	o.evictMu.Unlock()

	n, err := o.cache.Evict(ctx)
	if err != nil {
		o.logger.Warn("cache eviction failed", "error", err)
		return
	}
	if n > 0 {
		metrics.CacheEvicted.Add(float64(n))
		o.logger.Debug("evicted expired cache entries", "count", n)
	}
}

func (o *Orchestrator) buildAgents(ctx context.Context, specs []models.AgentSpec) ([]engine.Agent, error) {
	agents := make([]engine.Agent, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.AgentConcurrency)
	for i, s := range specs {
		g.Go(func() error {
			a, err := o.engine.NewAgent(gctx, s)
			if err != nil {
				return fmt.Errorf("agent %q: %w", s.AgentName, err)
			}
			agents[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agents, nil
}

// execute retries capacity errors for flex jobs only, waiting base, 2*base, ...
func (o *Orchestrator) execute(ctx context.Context, tier models.ServiceTier, req engine.Request) (*engine.Result, error) {
	attempts := 1
	if tier == models.TierFlex {
		attempts = o.cfg.FlexMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		res, err := o.engine.Execute(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, engine.ErrResourceUnavailable) || attempt >= attempts {
			return nil, err
		}
		delay := o.cfg.FlexBaseDelay << (attempt - 1)
		metrics.EngineRetries.Inc()
		o.logger.Warn("engine at capacity, retrying flex job", "swarm", req.Name, "attempt", attempt, "delay", delay)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func costAgents(agents []engine.Agent, res *engine.Result) []cost.Agent {
	out := make([]cost.Agent, len(agents))
	for i, a := range agents {
		ca := cost.Agent{Name: a.Spec.AgentName, Model: a.Spec.ModelName, SystemPrompt: a.Spec.SystemPrompt}
		if res.Histories != nil {
			name := a.Spec.AgentName
			ca.Memory = func() (string, error) {
				h, ok := res.Histories[name]
				if !ok {
					return "", fmt.Errorf("engine returned no history for %s", name)
				}
				return h, nil
			}
		}
		out[i] = ca
	}
	return out
}
