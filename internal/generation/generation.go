// Package generation wraps the external creative services: text to
// image, text to music, and locally rendered web toys. Every service
// follows the same submit-then-poll shape.
package generation

import (
	"context"
	"errors"
)

// ErrSubmitRejected is returned when a service accepts the HTTP call
// but rejects the job at the application level.
var ErrSubmitRejected = errors.New("generation submit rejected")

// State is the coarse lifecycle a polled job reports.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result is one poll's view of a job.
type Result struct {
	State    State
	Location string // URL or local path of the finished artifact
	Detail   string // service-reported message, mostly for failures
}

// Generator is one creative capability. Submit returns the service's
// job id; Poll reports progress until the job settles.
type Generator interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Poll(ctx context.Context, jobID string) (*Result, error)
}
