// Package scheduler defers job specs until their activation time and then
// runs them through the gateway under the caller that scheduled them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmgate/backend/internal/gateway"
	"github.com/swarmgate/backend/internal/metrics"
	"github.com/swarmgate/backend/internal/models"
	"github.com/swarmgate/backend/internal/services"
)

var (
	ErrNoSchedule      = fmt.Errorf("%w: job has no schedule.scheduled_time", services.ErrValidation)
	ErrInvalidTimezone = fmt.Errorf("%w: unknown schedule.timezone", services.ErrValidation)
	ErrInPast          = fmt.Errorf("%w: schedule.scheduled_time is in the past", services.ErrValidation)
	ErrNotFound        = fmt.Errorf("scheduled job %w", gateway.ErrNotFound)
)

const (
	DefaultPollInterval = time.Second
	DefaultMissedAfter  = 30 * time.Second
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusCancelled  Status = "cancelled"
	StatusMissed     Status = "missed"
)

// Runner is the gateway path a due job goes through.
type Runner interface {
	Run(ctx context.Context, callerID uuid.UUID, spec *models.JobSpec) (*gateway.Result, error)
}

type Job struct {
	ID             uuid.UUID       `json:"job_id"`
	CallerID       uuid.UUID       `json:"-"`
	SwarmName      string          `json:"swarm_name"`
	ActivationTime time.Time       `json:"scheduled_time"`
	Timezone       string          `json:"timezone"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	Spec           *models.JobSpec `json:"-"`
}

type Config struct {
	PollInterval time.Duration
	MissedAfter  time.Duration
}

type Scheduler struct {
	runner    Runner
	validator gateway.Validator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]*Job

	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithValidator rejects invalid specs at schedule time rather than at activation.
func WithValidator(v gateway.Validator) Option {
	return func(s *Scheduler) { s.validator = v }
}

func New(runner Runner, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MissedAfter <= 0 {
		cfg.MissedAfter = DefaultMissedAfter
	}
	s := &Scheduler{
		runner:  runner,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		pending: make(map[uuid.UUID]*Job),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ActivationTime resolves a schedule to an instant. A scheduled_time with a
// non-UTC offset is taken as-is; otherwise its wall clock is read in the
// schedule's timezone.
func ActivationTime(sch *models.ScheduleSpec) (time.Time, string, error) {
	tz := sch.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	t := sch.ScheduledTime
	if _, offset := t.Zone(); offset == 0 {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return t.UTC(), tz, nil
}

// Schedule queues spec for its activation time.
func (s *Scheduler) Schedule(spec *models.JobSpec, callerID uuid.UUID) (*Job, error) {
	if spec == nil || spec.Schedule == nil || spec.Schedule.ScheduledTime.IsZero() {
		return nil, ErrNoSchedule
	}
	at, tz, err := ActivationTime(spec.Schedule)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if at.Before(now) {
		return nil, ErrInPast
	}
	if s.validator != nil {
		if err := s.validator.Validate(spec); err != nil {
			return nil, err
		}
	}

	job := &Job{
		ID:             uuid.New(),
		CallerID:       callerID,
		SwarmName:      spec.Name,
		ActivationTime: at,
		Timezone:       tz,
		Status:         StatusPending,
		CreatedAt:      now.UTC(),
		Spec:           spec,
	}
	s.mu.Lock()
	s.pending[job.ID] = job
	n := len(s.pending)
	s.mu.Unlock()
	metrics.ScheduledPending.Set(float64(n))

	s.logger.Info("job scheduled", "job_id", job.ID, "swarm", spec.Name, "activation", at)
	cp := *job
	return &cp, nil
}

// Cancel removes a pending job owned by callerID.
func (s *Scheduler) Cancel(callerID, jobID uuid.UUID) (*Job, error) {
	s.mu.Lock()
	job, ok := s.pending[jobID]
	if !ok || job.CallerID != callerID {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(s.pending, jobID)
	n := len(s.pending)
	s.mu.Unlock()

	metrics.ScheduledPending.Set(float64(n))
	metrics.ScheduledDispatched.WithLabelValues(string(StatusCancelled)).Inc()
	job.Status = StatusCancelled
	cp := *job
	return &cp, nil
}

// List returns callerID's pending jobs whose activation is still ahead,
// ordered by activation time. Jobs overdue past the missed window are reaped
// as missed. Jobs inside the window are hidden but left for the next Tick.
func (s *Scheduler) List(callerID uuid.UUID) []*Job {
	now := s.now()
	s.mu.Lock()
	s.reapLocked(now)
	out := []*Job{}
	for _, j := range s.pending {
		if j.CallerID == callerID && j.ActivationTime.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	n := len(s.pending)
	s.mu.Unlock()
	metrics.ScheduledPending.Set(float64(n))

	sort.Slice(out, func(i, k int) bool { return out[i].ActivationTime.Before(out[k].ActivationTime) })
	return out
}

func (s *Scheduler) reapLocked(now time.Time) {
	for id, j := range s.pending {
		if now.Sub(j.ActivationTime) > s.cfg.MissedAfter {
			delete(s.pending, id)
			metrics.ScheduledDispatched.WithLabelValues(string(StatusMissed)).Inc()
			s.logger.Warn("scheduled job missed its activation window", "job_id", id, "swarm", j.SwarmName, "activation", j.ActivationTime)
		}
	}
}

// Start launches the poller. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	go s.run(ctx, s.loopDone)
}

// Stop halts polling and waits for dispatched jobs to finish.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.inflight.Wait()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every due job once, however late the tick fires. Exported
// for tests and manual triggers.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	var due []*Job
	s.mu.Lock()
	for id, j := range s.pending {
		if !now.Before(j.ActivationTime) {
			delete(s.pending, id)
			due = append(due, j)
		}
	}
	n := len(s.pending)
	s.mu.Unlock()
	metrics.ScheduledPending.Set(float64(n))

	// Dispatch outlives a Stop so billing for started work completes.
	runCtx := context.WithoutCancel(ctx)
	for _, j := range due {
		j.Status = StatusDispatched
		metrics.ScheduledDispatched.WithLabelValues(string(StatusDispatched)).Inc()
		s.inflight.Add(1)
		go s.dispatch(runCtx, j)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, j *Job) {
	defer s.inflight.Done()
	s.logger.Info("dispatching scheduled job", "job_id", j.ID, "swarm", j.SwarmName)
	res, err := s.runner.Run(ctx, j.CallerID, j.Spec)
	if err != nil {
		s.logger.Error("scheduled job failed", "job_id", j.ID, "swarm", j.SwarmName, "error", err)
		return
	}
	s.logger.Info("scheduled job completed", "job_id", j.ID, "swarm", j.SwarmName, "cached", res.Cached)
}
