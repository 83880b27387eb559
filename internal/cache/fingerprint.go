package cache

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/swarmgate/backend/internal/models"
)

type agentPrint struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxLoops    int     `json:"max_loops"`
}

type specPrint struct {
	Name          string           `json:"name"`
	Task          *string          `json:"task"`
	Tasks         []string         `json:"tasks"`
	Messages      []models.Message `json:"messages"`
	SwarmType     string           `json:"swarm_type"`
	MaxLoops      int              `json:"max_loops"`
	ReturnHistory bool             `json:"return_history"`
	Agents        []agentPrint     `json:"agents"`
}

// Fingerprint hashes the fields of spec that determine its output. The input
// is hashed in the shape it was sent, so a task, a task list and a message
// list with the same text never collide. Agent defaults are applied first so
// an omitted field and its default do.
func Fingerprint(spec *models.JobSpec) string {
	p := specPrint{
		Name:          spec.Name,
		Task:          spec.Task,
		Tasks:         spec.Tasks,
		Messages:      spec.Messages,
		SwarmType:     spec.SwarmType,
		MaxLoops:      spec.MaxLoops,
		ReturnHistory: spec.WantsHistory(),
		Agents:        make([]agentPrint, len(spec.Agents)),
	}
	for i, a := range spec.Agents {
		a = a.WithDefaults()
		p.Agents[i] = agentPrint{
			Name:        a.AgentName,
			Model:       a.ModelName,
			Prompt:      a.SystemPrompt,
			Temperature: *a.Temperature,
			MaxLoops:    *a.MaxLoops,
		}
	}
	// struct field order makes the encoding canonical
	b, _ := json.Marshal(p)
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Key scopes a fingerprint to one caller so cached results never cross accounts.
func Key(callerID uuid.UUID, fingerprint string) string {
	return callerID.String() + ":" + fingerprint
}
