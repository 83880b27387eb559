package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ServiceTier selects the pricing class of a job.
type ServiceTier string

const (
	TierStandard ServiceTier = "standard"
	TierFlex     ServiceTier = "flex"
)

// Message is one pre-rendered conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ScheduleSpec defers a job until ScheduledTime.
type ScheduleSpec struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	Timezone      string    `json:"timezone,omitempty"`
}

// naiveLayouts are accepted for scheduled_time values without an offset.
var naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02T15:04"}

// UnmarshalJSON accepts RFC 3339 times and offset-less wall-clock times. The
// latter decode as UTC and are later read in Timezone.
func (s *ScheduleSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		ScheduledTime string `json:"scheduled_time"`
		Timezone      string `json:"timezone,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Timezone = raw.Timezone
	s.ScheduledTime = time.Time{}
	if raw.ScheduledTime == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.ScheduledTime); err == nil {
		s.ScheduledTime = t
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, raw.ScheduledTime); err == nil {
			s.ScheduledTime = t
			return nil
		}
	}
	return fmt.Errorf("schedule.scheduled_time: unrecognised time %q", raw.ScheduledTime)
}

// JobSpec is a declarative swarm request.
type JobSpec struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Agents        []AgentSpec   `json:"agents"`
	MaxLoops      int           `json:"max_loops,omitempty"`
	SwarmType     string        `json:"swarm_type,omitempty"`
	RearrangeFlow string        `json:"rearrange_flow,omitempty"`
	Task          *string       `json:"task,omitempty"`
	Tasks         []string      `json:"tasks,omitempty"`
	Messages      []Message     `json:"messages,omitempty"`
	Img           string        `json:"img,omitempty"`
	ReturnHistory *bool         `json:"return_history,omitempty"`
	Rules         string        `json:"rules,omitempty"`
	ServiceTier   ServiceTier   `json:"service_tier,omitempty"`
	Schedule      *ScheduleSpec `json:"schedule,omitempty"`
}

// Tier returns the service tier, defaulting to standard.
func (j *JobSpec) Tier() ServiceTier {
	if j.ServiceTier == "" {
		return TierStandard
	}
	return j.ServiceTier
}

// WantsHistory reports the return_history flag (true when unset).
func (j *JobSpec) WantsHistory() bool {
	return j.ReturnHistory == nil || *j.ReturnHistory
}

// InputCount returns how many of task, tasks and messages are set.
func (j *JobSpec) InputCount() int {
	n := 0
	if j.Task != nil && strings.TrimSpace(*j.Task) != "" {
		n++
	}
	if len(j.Tasks) > 0 {
		n++
	}
	if len(j.Messages) > 0 {
		n++
	}
	return n
}

// TaskText is the primary input text used for metering and fingerprinting.
func (j *JobSpec) TaskText() string {
	switch {
	case j.Task != nil && *j.Task != "":
		return *j.Task
	case len(j.Tasks) > 0:
		return strings.Join(j.Tasks, "\n")
	case len(j.Messages) > 0:
		parts := make([]string, len(j.Messages))
		for i, m := range j.Messages {
			parts[i] = m.Content
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
