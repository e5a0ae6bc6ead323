package domain

import "fmt"

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued is the initial state: the job waits on the intake queue.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker is executing the job.
	StatusProcessing Status = "processing"
	// StatusRetrying means the job failed recoverably and waits for
	// delayed redelivery.
	StatusRetrying Status = "retrying"
	// StatusCompleted is terminal: a validated result was recorded.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: retries were exhausted or the failure was
	// not recoverable.
	StatusFailed Status = "failed"
)

// validTransitions defines the allowed state transitions.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying:   {StatusQueued},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// ValidateTransition checks whether moving from one status to another is
// allowed. Everything not listed in validTransitions is rejected.
func ValidateTransition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	for _, next := range allowed {
		if next == to {
			return nil
		}
	}

	return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}
