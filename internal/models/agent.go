package models

import "encoding/json"

// Defaults applied when an AgentSpec leaves a field unset.
const (
	DefaultAgentMaxTokens   = 8192
	DefaultAgentTemperature = 0.5
	DefaultAgentRole        = "worker"
	DefaultAgentMaxLoops    = 1
)

// AgentSpec describes one worker inside a JobSpec.
type AgentSpec struct {
	AgentName          string          `json:"agent_name"`
	Description        string          `json:"description,omitempty"`
	SystemPrompt       string          `json:"system_prompt,omitempty"`
	ModelName          string          `json:"model_name"`
	AutoGeneratePrompt bool            `json:"auto_generate_prompt,omitempty"`
	MaxTokens          *int            `json:"max_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	Role               string          `json:"role,omitempty"`
	MaxLoops           *int            `json:"max_loops,omitempty"`
	ToolsDictionary    json.RawMessage `json:"tools_dictionary,omitempty"`
}

// WithDefaults returns a copy with unset optional fields filled in.
func (a AgentSpec) WithDefaults() AgentSpec {
	if a.MaxTokens == nil || *a.MaxTokens <= 0 {
		n := DefaultAgentMaxTokens
		a.MaxTokens = &n
	}
	if a.Temperature == nil {
		t := DefaultAgentTemperature
		a.Temperature = &t
	}
	if a.Role == "" {
		a.Role = DefaultAgentRole
	}
	if a.MaxLoops == nil || *a.MaxLoops <= 0 {
		n := DefaultAgentMaxLoops
		a.MaxLoops = &n
	}
	return a
}
