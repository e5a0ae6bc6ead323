package domain

import "time"

// EventType identifies a job lifecycle notification.
type EventType string

const (
	// EventJobCreated is recorded when a job enters the system.
	EventJobCreated EventType = "JOB_CREATED"
	// EventJobCompleted is recorded when a job finishes with a valid result.
	EventJobCompleted EventType = "JOB_COMPLETED"
	// EventJobFailed is recorded when a job fails terminally.
	EventJobFailed EventType = "JOB_FAILED"
	// EventJobRetrying is recorded when a job is scheduled for redelivery.
	EventJobRetrying EventType = "JOB_RETRYING"
)

// Event is a lifecycle notification recorded by the Job aggregate and
// drained by the caller after a successful persist. Best-effort: losing an
// event never affects the state machine.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (j *Job) recordEvent(t EventType) {
	j.events = append(j.events, Event{
		Type:       t,
		JobID:      j.ID,
		Status:     j.Status,
		RetryCount: j.RetryCount,
		Error:      j.Error,
		OccurredAt: time.Now().UTC(),
	})
}

// PullEvents returns recorded events and clears the buffer. Call after the
// transition has been persisted.
func (j *Job) PullEvents() []Event {
	out := j.events
	j.events = nil
	return out
}
