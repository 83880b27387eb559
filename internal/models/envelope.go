package models

import "time"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the response body of a completed job.
type Envelope struct {
	JobID          string         `json:"job_id"`
	Status         string         `json:"status"`
	SwarmName      string         `json:"swarm_name"`
	Description    string         `json:"description,omitempty"`
	SwarmType      string         `json:"swarm_type,omitempty"`
	ServiceTier    ServiceTier    `json:"service_tier"`
	Task           string         `json:"task,omitempty"`
	Output         Output         `json:"output"`
	NumberOfAgents int            `json:"number_of_agents"`
	Costs          *CostBreakdown `json:"costs,omitempty"`
	InputConfig    *JobSpec       `json:"input_config,omitempty"`
	ExecutionTime  float64        `json:"execution_time"` // seconds
	ExecutedAt     time.Time      `json:"executed_at"`
}

// ErrorDetail is the structured error returned to callers.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is returned in place of an Envelope when a job fails.
type ErrorEnvelope struct {
	Status    string      `json:"status"`
	SwarmName string      `json:"swarm_name,omitempty"`
	Error     ErrorDetail `json:"error"`
}

// NewErrorEnvelope builds an error envelope for the given job name.
func NewErrorEnvelope(name string, code int, msg string) ErrorEnvelope {
	return ErrorEnvelope{Status: StatusError, SwarmName: name, Error: ErrorDetail{Code: code, Message: msg}}
}
