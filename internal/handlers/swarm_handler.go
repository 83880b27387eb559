package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/swarmgate/backend/internal/apilog"
	"github.com/swarmgate/backend/internal/catalog"
	"github.com/swarmgate/backend/internal/gateway"
	"github.com/swarmgate/backend/internal/middleware"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/scheduler"
	"github.com/swarmgate/backend/internal/services"
)

const (
	maxBodyBytes      = 1 << 20
	maxBatchBodyBytes = 8 << 20
)

// Runner executes job specs through the gateway.
type Runner interface {
	Run(ctx context.Context, callerID uuid.UUID, spec *models.JobSpec) (*gateway.Result, error)
	RunBatch(ctx context.Context, callerID uuid.UUID, specs []*models.JobSpec) ([]json.RawMessage, error)
}

// RawValidator checks a request body's shape before it is decoded.
type RawValidator interface {
	ValidateRaw(body []byte) error
}

// JobScheduler defers job specs.
type JobScheduler interface {
	Schedule(spec *models.JobSpec, callerID uuid.UUID) (*scheduler.Job, error)
	Cancel(callerID, jobID uuid.UUID) (*scheduler.Job, error)
	List(callerID uuid.UUID) []*scheduler.Job
}

// RequestLog records and lists what callers asked for.
type RequestLog interface {
	Record(ctx context.Context, userID uuid.UUID, category string, data any)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.APILog, error)
}

// SwarmHandler serves the /v1/swarm, /v1/agent and catalog endpoints.
type SwarmHandler struct {
	Runner    Runner
	Validator RawValidator
	Scheduler JobScheduler
	Logs      RequestLog
	Catalog   *catalog.Catalog
	Logger    *slog.Logger
}

// --- GET / and GET /health ---

func (h *SwarmHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "Welcome to the Swarm API. Check out the docs at /v1/swarms/available",
		"version": "1.0.0",
	})
}

func (h *SwarmHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- GET /v1/swarms/available ---

func (h *SwarmHandler) SwarmsAvailable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"swarm_types": h.Catalog.SwarmTypes,
	})
}

// --- GET /v1/models/available ---

func (h *SwarmHandler) ModelsAvailable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"models":  h.Catalog.ModelNames(),
	})
}

// --- POST /v1/swarm/completions ---

// SwarmCompletion runs a job spec, or schedules it when it carries a schedule.
func (h *SwarmHandler) SwarmCompletion(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())

	var spec models.JobSpec
	if err := h.decode(w, r, maxBodyBytes, &spec); err != nil {
		h.writeError(w, "", err)
		return
	}
	if spec.Schedule != nil {
		h.schedule(w, r, caller, &spec)
		return
	}

	res, err := h.Runner.Run(r.Context(), caller, &spec)
	if err != nil {
		h.writeError(w, spec.Name, err)
		return
	}
	h.Logs.Record(r.Context(), caller, apilog.CategorySwarmCompletion, res.Envelope)
	writeEnvelope(w, res)
}

// --- POST /v1/swarm/batch/completions ---

func (h *SwarmHandler) BatchCompletion(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())

	var specs []*models.JobSpec
	if err := h.decode(w, r, maxBatchBodyBytes, &specs); err != nil {
		h.writeError(w, "", err)
		return
	}
	out, err := h.Runner.RunBatch(r.Context(), caller, specs)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	h.Logs.Record(r.Context(), caller, apilog.CategoryBatchCompletion, out)
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/agent/completions ---

type agentCompletionRequest struct {
	AgentConfig models.AgentSpec `json:"agent_config"`
	Task        string           `json:"task"`
	History     []models.Message `json:"history,omitempty"`
}

// AgentCompletion runs a single agent as a one-member job.
func (h *SwarmHandler) AgentCompletion(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())

	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	var req agentCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, "", fmt.Errorf("%w: invalid JSON: %v", services.ErrValidation, err))
		return
	}

	spec := &models.JobSpec{
		Name:   req.AgentConfig.AgentName,
		Agents: []models.AgentSpec{req.AgentConfig},
	}
	if len(req.History) > 0 {
		spec.Messages = append(append([]models.Message(nil), req.History...), models.Message{Role: "user", Content: req.Task})
	} else {
		task := req.Task
		spec.Task = &task
	}

	res, err := h.Runner.Run(r.Context(), caller, spec)
	if err != nil {
		h.writeError(w, spec.Name, err)
		return
	}
	h.Logs.Record(r.Context(), caller, apilog.CategoryAgentCompletion, res.Envelope)
	writeEnvelope(w, res)
}

// --- GET /v1/swarm/logs ---

func (h *SwarmHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.Logs.List(r.Context(), caller, limit)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	if logs == nil {
		logs = []*models.APILog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(logs),
		"logs":   logs,
	})
}

// --- POST /v1/swarm/schedule ---

func (h *SwarmHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())

	var spec models.JobSpec
	if err := h.decode(w, r, maxBodyBytes, &spec); err != nil {
		h.writeError(w, "", err)
		return
	}
	h.schedule(w, r, caller, &spec)
}

func (h *SwarmHandler) schedule(w http.ResponseWriter, r *http.Request, caller uuid.UUID, spec *models.JobSpec) {
	job, err := h.Scheduler.Schedule(spec, caller)
	if err != nil {
		h.writeError(w, spec.Name, err)
		return
	}
	h.Logs.Record(r.Context(), caller, apilog.CategorySchedule, job)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"message":        "Swarm scheduled successfully",
		"job_id":         job.ID,
		"scheduled_time": job.ActivationTime,
		"swarm_name":     job.SwarmName,
	})
}

// --- GET /v1/swarm/schedule ---

func (h *SwarmHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	jobs := h.Scheduler.List(middleware.CallerFromCtx(r.Context()))
	if jobs == nil {
		jobs = []*scheduler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"scheduled_jobs": jobs,
	})
}

// --- DELETE /v1/swarm/schedule/{job_id} ---

func (h *SwarmHandler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		// Unparseable ids can never name a pending job.
		h.writeError(w, "", scheduler.ErrNotFound)
		return
	}
	job, err := h.Scheduler.Cancel(caller, jobID)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	h.Logs.Record(r.Context(), caller, apilog.CategoryCancelSchedule, job)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Scheduled job cancelled successfully",
		"job_id":  job.ID,
	})
}

// decode reads the body, checks its shape and unmarshals it into v.
func (h *SwarmHandler) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := readBody(w, r, limit)
	if err != nil {
		return err
	}
	if _, single := v.(*models.JobSpec); single {
		if err := h.Validator.ValidateRaw(body); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", services.ErrValidation, err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", services.ErrValidation, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: read body: %v", services.ErrValidation, err)
	}
	return body, nil
}

// writeError sends the same error envelope a failed batch item carries. name
// is the job name when the request got far enough to have one.
func (h *SwarmHandler) writeError(w http.ResponseWriter, name string, err error) {
	code := gateway.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "swarm", name, "error", err)
	}
	writeJSON(w, code, models.NewErrorEnvelope(name, code, gateway.PublicMessage(err)))
}

// writeEnvelope sends the stored bytes untouched so cache hits are
// byte-identical to the original response.
func writeEnvelope(w http.ResponseWriter, res *gateway.Result) {
	w.Header().Set("Content-Type", "application/json")
	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Envelope)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
