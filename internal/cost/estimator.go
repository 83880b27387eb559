// Package cost turns token consumption into a charge.
package cost

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swarmgate/backend/internal/config"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/tokens"
)

// ErrComputation wraps every failure to produce a breakdown.
var ErrComputation = errors.New("cost computation failed")

const moneyPlaces = 6

var million = decimal.NewFromInt(1_000_000)

// Agent is what the estimator needs to know about one executed agent.
// Memory may be nil; a failing Memory is logged and counted as zero tokens.
type Agent struct {
	Name         string
	Model        string
	SystemPrompt string
	Memory       func() (string, error)
}

type Rates struct {
	FlatFeePerAgent  decimal.Decimal
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
	NightMultiplier  decimal.Decimal
	FlexMultiplier   decimal.Decimal
}

// NightWindow is [StartHour, EndHour) in Location; it may wrap midnight.
type NightWindow struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window.
func (w NightWindow) Contains(t time.Time) bool {
	h := t.In(w.Location).Hour()
	if w.StartHour > w.EndHour {
		return h >= w.StartHour || h < w.EndHour
	}
	return h >= w.StartHour && h < w.EndHour
}

type Estimator struct {
	counter tokens.Counter
	rates   Rates
	night   NightWindow
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Estimator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

func NewEstimator(counter tokens.Counter, rates Rates, night NightWindow, opts ...Option) *Estimator {
	e := &Estimator{counter: counter, rates: rates, night: night, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	if e.night.Location == nil {
		e.night.Location = time.UTC
	}
	return e
}

// FromConfig builds an Estimator from billing settings.
func FromConfig(bc config.BillingConfig, counter tokens.Counter, opts ...Option) (*Estimator, error) {
	var r Rates
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"flat_fee_per_agent", bc.FlatFeePerAgent, &r.FlatFeePerAgent},
		{"input_per_million", bc.InputPerMillion, &r.InputPerMillion},
		{"output_per_million", bc.OutputPerMillion, &r.OutputPerMillion},
		{"night_multiplier", bc.NightMultiplier, &r.NightMultiplier},
		{"flex_multiplier", bc.FlexMultiplier, &r.FlexMultiplier},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("billing.%s: %w", f.name, err)
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("billing.%s must not be negative", f.name)
		}
		*f.dst = v
	}
	loc, err := time.LoadLocation(bc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("billing.timezone: %w", err)
	}
	night := NightWindow{Location: loc, StartHour: bc.NightStartHour, EndHour: bc.NightEndHour}
	return NewEstimator(counter, r, night, opts...), nil
}

// Estimate computes the breakdown for one execution. Every agent is billed for
// the task text, its own system prompt and memory, and the produced output.
func (e *Estimator) Estimate(agents []Agent, taskText string, execTime time.Duration, output models.Output, tier models.ServiceTier) (*models.CostBreakdown, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no agents", ErrComputation)
	}

	counts := models.TokenCounts{PerAgent: make(map[string]models.AgentTokens, len(agents))}
	outputText := output.TokenText()
	haveOutput := !output.IsEmpty()

	for _, a := range agents {
		in, err := e.counter.Count(taskText, a.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: count task for %s: %v", ErrComputation, a.Name, err)
		}
		if a.SystemPrompt != "" {
			n, err := e.counter.Count(a.SystemPrompt, a.Model)
			if err != nil {
				return nil, fmt.Errorf("%w: count system prompt for %s: %v", ErrComputation, a.Name, err)
			}
			in += n
		}
		in += e.memoryTokens(a)

		var out int
		if haveOutput {
			out, err = e.counter.Count(outputText, a.Model)
			if err != nil {
				return nil, fmt.Errorf("%w: count output for %s: %v", ErrComputation, a.Name, err)
			}
		} else {
			// in * 2.5, rounded half up
			out = (5*in + 1) / 2
		}

		counts.PerAgent[a.Name] = models.AgentTokens{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
		counts.TotalInputTokens += in
		counts.TotalOutputTokens += out
	}
	counts.TotalTokens = counts.TotalInputTokens + counts.TotalOutputTokens

	n := decimal.NewFromInt(int64(len(agents)))
	agentCost := e.rates.FlatFeePerAgent.Mul(n)
	inputCost := decimal.NewFromInt(int64(counts.TotalInputTokens)).Div(million).Mul(e.rates.InputPerMillion).Mul(n)
	outputCost := decimal.NewFromInt(int64(counts.TotalOutputTokens)).Div(million).Mul(e.rates.OutputPerMillion).Mul(n)

	flex := tier == models.TierFlex
	night := e.night.Contains(e.now())
	if flex {
		inputCost = inputCost.Mul(e.rates.FlexMultiplier)
		outputCost = outputCost.Mul(e.rates.FlexMultiplier)
	}
	if night {
		inputCost = inputCost.Mul(e.rates.NightMultiplier)
		outputCost = outputCost.Mul(e.rates.NightMultiplier)
	}
	total := agentCost.Add(inputCost).Add(outputCost)

	return &models.CostBreakdown{
		AgentCost:            agentCost.Round(moneyPlaces),
		InputTokenCost:       inputCost.Round(moneyPlaces),
		OutputTokenCost:      outputCost.Round(moneyPlaces),
		TokenCounts:          counts,
		NumAgents:            len(agents),
		ExecutionTimeSeconds: math.Round(execTime.Seconds()*100) / 100,
		NightTimeDiscount:    night,
		FlexDiscount:         flex,
		TotalCost:            total.Round(moneyPlaces),
	}, nil
}

func (e *Estimator) memoryTokens(a Agent) int {
	if a.Memory == nil {
		return 0
	}
	mem, err := a.Memory()
	if err != nil {
		e.logger.Warn("agent memory unavailable, not billed", "agent", a.Name, "error", err)
		return 0
	}
	if mem == "" {
		return 0
	}
	n, err := e.counter.Count(mem, a.Model)
	if err != nil {
		e.logger.Warn("agent memory not countable, not billed", "agent", a.Name, "error", err)
		return 0
	}
	return n
}
