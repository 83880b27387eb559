// Package engine is the boundary to the external multi-agent execution engine.
package engine

import (
	"context"
	"errors"

	"github.com/swarmgate/backend/internal/models"
)

// ErrResourceUnavailable means the engine had no capacity. It is the only
// error the gateway retries, and only for flex-tier jobs.
var ErrResourceUnavailable = errors.New("execution engine resource unavailable")

// Agent is a constructed, ready-to-run agent.
type Agent struct {
	ID   string           `json:"agent_id"`
	Spec models.AgentSpec `json:"spec"`
}

// Request is one swarm execution.
type Request struct {
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	SwarmType     string           `json:"swarm_type,omitempty"`
	RearrangeFlow string           `json:"rearrange_flow,omitempty"`
	Rules         string           `json:"rules,omitempty"`
	MaxLoops      int              `json:"max_loops,omitempty"`
	Task          string           `json:"task,omitempty"`
	Tasks         []string         `json:"tasks,omitempty"`
	Messages      []models.Message `json:"messages,omitempty"`
	Img           string           `json:"img,omitempty"`
	ReturnHistory bool             `json:"return_history"`
	Agents        []Agent          `json:"agents"`
}

// Result is what the engine produced. Histories holds each agent's
// conversation memory keyed by agent name; a missing entry means the engine
// could not provide it.
type Result struct {
	Output    models.Output     `json:"output"`
	Histories map[string]string `json:"histories,omitempty"`
}

// Engine constructs and runs agents.
type Engine interface {
	NewAgent(ctx context.Context, spec models.AgentSpec) (Agent, error)
	Execute(ctx context.Context, req Request) (*Result, error)
}

// NewRequest copies the executable fields of spec.
func NewRequest(spec *models.JobSpec, agents []Agent) Request {
	req := Request{
		Name:          spec.Name,
		Description:   spec.Description,
		SwarmType:     spec.SwarmType,
		RearrangeFlow: spec.RearrangeFlow,
		Rules:         spec.Rules,
		MaxLoops:      spec.MaxLoops,
		Tasks:         spec.Tasks,
		Messages:      spec.Messages,
		Img:           spec.Img,
		ReturnHistory: spec.WantsHistory(),
		Agents:        agents,
	}
	if spec.Task != nil {
		req.Task = *spec.Task
	}
	return req
}
