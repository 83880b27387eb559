package services

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/swarmgate/backend/internal/catalog"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/tokens"
)

// ErrValidation can be used with errors.Is to detect rejected job specs.
var ErrValidation = errors.New("validation failed")

// DefaultMaxPromptTokens bounds system prompt plus task text per agent.
const DefaultMaxPromptTokens = 200_000

//go:embed schemas/job_spec.schema.json
var jobSpecSchema string

const jobSpecSchemaID = "https://swarmgate.dev/schemas/job_spec.json"

type Validator struct {
	schema          *jsonschema.Schema
	catalog         *catalog.Catalog
	counter         tokens.Counter
	maxPromptTokens int
}

func NewValidator(cat *catalog.Catalog, counter tokens.Counter, maxPromptTokens int) (*Validator, error) {
	schema, err := jsonschema.CompileString(jobSpecSchemaID, jobSpecSchema)
	if err != nil {
		return nil, fmt.Errorf("compile job spec schema: %w", err)
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	return &Validator{schema: schema, catalog: cat, counter: counter, maxPromptTokens: maxPromptTokens}, nil
}

// ValidateRaw checks the request body shape before it is decoded.
func (v *Validator) ValidateRaw(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Validate performs every check that must pass before an agent is built or a
// credit is charged.
func (v *Validator) Validate(spec *models.JobSpec) error {
	if spec == nil {
		return fmt.Errorf("%w: empty job spec", ErrValidation)
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := v.ValidateRaw(raw); err != nil {
		return err
	}

	switch spec.InputCount() {
	case 0:
		return fmt.Errorf("%w: one of task, tasks or messages is required", ErrValidation)
	case 1:
	default:
		return fmt.Errorf("%w: only one of task, tasks or messages may be set", ErrValidation)
	}
	if spec.SwarmType != "" && !v.catalog.HasSwarmType(spec.SwarmType) {
		return fmt.Errorf("%w: unknown swarm_type %q", ErrValidation, spec.SwarmType)
	}

	task := spec.TaskText()
	seen := make(map[string]struct{}, len(spec.Agents))
	for _, a := range spec.Agents {
		if _, dup := seen[a.AgentName]; dup {
			return fmt.Errorf("%w: duplicate agent_name %q", ErrValidation, a.AgentName)
		}
		seen[a.AgentName] = struct{}{}

		if !v.catalog.HasModel(a.ModelName) {
			return fmt.Errorf("%w: agent %q: unknown model %q", ErrValidation, a.AgentName, a.ModelName)
		}
		n, err := v.counter.Count(a.SystemPrompt+"\n"+task, a.ModelName)
		if err != nil {
			return fmt.Errorf("%w: agent %q: %v", ErrValidation, a.AgentName, err)
		}
		if n > v.maxPromptTokens {
			return fmt.Errorf("%w: agent %q: prompt is %d tokens, limit %d", ErrValidation, a.AgentName, n, v.maxPromptTokens)
		}
	}
	return nil
}
