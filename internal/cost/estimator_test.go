package cost

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgate/backend/internal/config"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/tokens"
)

type stubCounter map[string]int

func (s stubCounter) Count(text, _ string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n, ok := s[text]
	if !ok {
		return 0, errors.New("unknown text")
	}
	return n, nil
}

func defaultBilling() config.BillingConfig {
	return config.BillingConfig{
		FlatFeePerAgent:  "0.01",
		InputPerMillion:  "2.00",
		OutputPerMillion: "4.50",
		NightMultiplier:  "0.25",
		FlexMultiplier:   "0.25",
		Timezone:         "America/Los_Angeles",
		NightStartHour:   20,
		NightEndHour:     6,
	}
}

func newTestEstimator(t *testing.T, c tokens.Counter, at time.Time) *Estimator {
	t.Helper()
	e, err := FromConfig(defaultBilling(), c, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	return e
}

func laTime(t *testing.T, hour int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return time.Date(2025, time.January, 15, hour, 0, 0, 0, loc)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEstimate_StandardDaytime(t *testing.T) {
	c := stubCounter{"task": 1_000_000, "answer": 2_000_000}
	e := newTestEstimator(t, c, laTime(t, 12))

	b, err := e.Estimate([]Agent{{Name: "a", Model: "gpt-4o"}}, "task", 1234*time.Millisecond, models.PlainText("answer"), models.TierStandard)
	require.NoError(t, err)

	assert.True(t, b.AgentCost.Equal(dec("0.01")))
	assert.True(t, b.InputTokenCost.Equal(dec("2")), "input %s", b.InputTokenCost)
	assert.True(t, b.OutputTokenCost.Equal(dec("9")), "output %s", b.OutputTokenCost)
	assert.True(t, b.TotalCost.Equal(dec("11.01")), "total %s", b.TotalCost)
	assert.False(t, b.NightTimeDiscount)
	assert.False(t, b.FlexDiscount)
	assert.Equal(t, 1.23, b.ExecutionTimeSeconds)
	assert.Equal(t, 3_000_000, b.TokenCounts.TotalTokens)
}

func TestEstimate_FlexAtNightStacks(t *testing.T) {
	c := stubCounter{"task": 1_000_000, "answer": 2_000_000}
	e := newTestEstimator(t, c, laTime(t, 21))

	b, err := e.Estimate([]Agent{{Name: "a", Model: "gpt-4o"}}, "task", time.Second, models.PlainText("answer"), models.TierFlex)
	require.NoError(t, err)

	assert.True(t, b.NightTimeDiscount)
	assert.True(t, b.FlexDiscount)
	assert.True(t, b.InputTokenCost.Equal(dec("0.125")), "input %s", b.InputTokenCost)
	assert.True(t, b.OutputTokenCost.Equal(dec("0.5625")), "output %s", b.OutputTokenCost)
	// flat fee is never discounted
	assert.True(t, b.AgentCost.Equal(dec("0.01")))
	assert.True(t, b.TotalCost.Equal(dec("0.6975")), "total %s", b.TotalCost)
}

func TestEstimate_NightWindowEdges(t *testing.T) {
	c := stubCounter{"t": 10}
	for hour, want := range map[int]bool{5: true, 6: false, 19: false, 20: true, 0: true} {
		e := newTestEstimator(t, c, laTime(t, hour))
		b, err := e.Estimate([]Agent{{Name: "a"}}, "t", 0, models.Output{}, models.TierStandard)
		require.NoError(t, err)
		assert.Equal(t, want, b.NightTimeDiscount, "hour %d", hour)
	}
}

func TestEstimate_OutputEstimatedWhenEmpty(t *testing.T) {
	c := stubCounter{"task": 3, "sys": 2}
	e := newTestEstimator(t, c, laTime(t, 12))

	b, err := e.Estimate([]Agent{{Name: "a", SystemPrompt: "sys"}, {Name: "b"}}, "task", 0, models.PlainText(""), models.TierStandard)
	require.NoError(t, err)

	// a: in 5 -> out 13 (12.5 rounded up); b: in 3 -> out 8 (7.5 rounded up)
	assert.Equal(t, models.AgentTokens{InputTokens: 5, OutputTokens: 13, TotalTokens: 18}, b.TokenCounts.PerAgent["a"])
	assert.Equal(t, models.AgentTokens{InputTokens: 3, OutputTokens: 8, TotalTokens: 11}, b.TokenCounts.PerAgent["b"])
	assert.Equal(t, 8, b.TokenCounts.TotalInputTokens)
	assert.Equal(t, 21, b.TokenCounts.TotalOutputTokens)
	assert.Equal(t, 2, b.NumAgents)
	assert.True(t, b.AgentCost.Equal(dec("0.02")))
}

func TestEstimate_MessageListOutput(t *testing.T) {
	c := stubCounter{"task": 1, "one\ntwo": 7}
	e := newTestEstimator(t, c, laTime(t, 12))

	out := models.MessageList([]models.Message{{Role: "a", Content: "one"}, {Role: "b", Content: "two"}})
	b, err := e.Estimate([]Agent{{Name: "a"}}, "task", 0, out, models.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, 7, b.TokenCounts.TotalOutputTokens)
}

func TestEstimate_MemoryFailureCountsZero(t *testing.T) {
	c := stubCounter{"task": 4, "history": 6}
	e := newTestEstimator(t, c, laTime(t, 12))

	agents := []Agent{
		{Name: "ok", Memory: func() (string, error) { return "history", nil }},
		{Name: "broken", Memory: func() (string, error) { return "", errors.New("gone") }},
	}
	b, err := e.Estimate(agents, "task", 0, models.PlainText("task"), models.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, 10, b.TokenCounts.PerAgent["ok"].InputTokens)
	assert.Equal(t, 4, b.TokenCounts.PerAgent["broken"].InputTokens)
}

func TestEstimate_CounterFailureIsComputationError(t *testing.T) {
	e := newTestEstimator(t, stubCounter{}, laTime(t, 12))

	b, err := e.Estimate([]Agent{{Name: "a"}}, "uncountable", 0, models.Output{}, models.TierStandard)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrComputation)

	_, err = e.Estimate(nil, "", 0, models.Output{}, models.TierStandard)
	assert.ErrorIs(t, err, ErrComputation)
}

func TestFromConfigRejectsBadValues(t *testing.T) {
	bc := defaultBilling()
	bc.InputPerMillion = "two"
	_, err := FromConfig(bc, tokens.NewHeuristic())
	assert.Error(t, err)

	bc = defaultBilling()
	bc.Timezone = "Mars/Olympus"
	_, err = FromConfig(bc, tokens.NewHeuristic())
	assert.Error(t, err)
}
