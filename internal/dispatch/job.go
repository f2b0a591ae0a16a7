package dispatch

import (
	"time"

	"github.com/jiejieje/alien-town/internal/agent"
)

// JobState is a creative job's position in its lifecycle. Jobs only
// move forward: pending, submitted, polling, then one terminal state.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job tracks one creative intent from enqueue to artifact. Failures
// counts consecutive errors only; any successful exchange with the
// service resets it.
type Job struct {
	ID            string             `json:"id"`
	AgentID       string             `json:"agent_id"`
	AgentName     string             `json:"agent_name"`
	Kind          agent.CreativeKind `json:"kind"`
	Prompt        string             `json:"prompt"`
	EnqueuedTick  int64              `json:"enqueued_tick"`
	State         JobState           `json:"state"`
	RemoteID      string             `json:"remote_id,omitempty"`
	Failures      int                `json:"failures"`
	Polls         int                `json:"polls"`
	Location      string             `json:"location,omitempty"`
	Error         string             `json:"error,omitempty"`
	CompletedTick int64              `json:"completed_tick,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
