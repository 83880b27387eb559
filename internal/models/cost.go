package models

import "github.com/shopspring/decimal"

// AgentTokens is the per-agent token split of a CostBreakdown.
type AgentTokens struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type TokenCounts struct {
	TotalInputTokens  int                    `json:"total_input_tokens"`
	TotalOutputTokens int                    `json:"total_output_tokens"`
	TotalTokens       int                    `json:"total_tokens"`
	PerAgent          map[string]AgentTokens `json:"per_agent"`
}

// CostBreakdown is computed once per execution and never mutated afterwards.
type CostBreakdown struct {
	AgentCost            decimal.Decimal `json:"agent_cost"`
	InputTokenCost       decimal.Decimal `json:"input_token_cost"`
	OutputTokenCost      decimal.Decimal `json:"output_token_cost"`
	TokenCounts          TokenCounts     `json:"token_counts"`
	NumAgents            int             `json:"num_agents"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
	NightTimeDiscount    bool            `json:"night_time_discount"`
	FlexDiscount         bool            `json:"flex_discount"`
	TotalCost            decimal.Decimal `json:"total_cost"`
}
