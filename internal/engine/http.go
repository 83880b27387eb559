package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/swarmgate/backend/internal/models"
)

// HTTPEngine talks to the engine's JSON API.
type HTTPEngine struct {
	client *resty.Client
}

func NewHTTPEngine(baseURL, apiKey string, timeout time.Duration) *HTTPEngine {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &HTTPEngine{client: c}
}

type apiError struct {
	Error string `json:"error"`
}

func (e *HTTPEngine) NewAgent(ctx context.Context, spec models.AgentSpec) (Agent, error) {
	spec = spec.WithDefaults()
	var out struct {
		AgentID      string `json:"agent_id"`
		SystemPrompt string `json:"system_prompt"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(spec).
		Post("/v1/agents")
	if err != nil {
		return Agent{}, fmt.Errorf("POST /v1/agents: %w", err)
	}
	if err := decodeResponse(resp, &out); err != nil {
		return Agent{}, fmt.Errorf("create agent %s: %w", spec.AgentName, err)
	}
	// auto_generate_prompt lets the engine write the prompt
	if out.SystemPrompt != "" {
		spec.SystemPrompt = out.SystemPrompt
	}
	return Agent{ID: out.AgentID, Spec: spec}, nil
}

func (e *HTTPEngine) Execute(ctx context.Context, req Request) (*Result, error) {
	var out Result
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/v1/execute")
	if err != nil {
		return nil, fmt.Errorf("POST /v1/execute: %w", err)
	}
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.Name, err)
	}
	return &out, nil
}

// decodeResponse maps the status code and decodes a success body into out
// whatever Content-Type the engine sent. An undecodable body is an error,
// never an empty result.
func decodeResponse(resp *resty.Response, out any) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return ErrResourceUnavailable
	case code >= 300:
		var apiErr apiError
		msg := resp.String()
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("engine returned %d: %s", code, msg)
	}
	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		return errors.New("engine returned an empty body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

var _ Engine = (*HTTPEngine)(nil)
