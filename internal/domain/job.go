// Package domain holds the job aggregate and its lifecycle state machine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of asynchronous generation work. It is the durable
// aggregate: every transition is persisted by the caller before the job is
// considered advanced. Mutation happens only through the methods below.
type Job struct {
	ID           string     `db:"id"            json:"id"`
	Prompt       string     `db:"prompt"        json:"prompt"`
	ConfigName   string     `db:"config_name"   json:"config_name"`
	TemplateName string     `db:"template_name" json:"template_name"`
	Status       Status     `db:"status"        json:"status"`
	Result       string     `db:"result"        json:"result,omitempty"`
	Error        string     `db:"error"         json:"error,omitempty"`
	MaxRetries   int        `db:"max_retries"   json:"max_retries"`
	RetryCount   int        `db:"retry_count"   json:"retry_count"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`

	events []Event
}

// DefaultMaxRetries is the job-level retry budget applied when the caller
// does not choose one.
const DefaultMaxRetries = 2

// NewJob creates a job in QUEUED with a fresh id and records the created
// event.
func NewJob(prompt, configName, templateName string, maxRetries int) *Job {
	if maxRetries < 0 {
		maxRetries = 0
	}

	now := time.Now().UTC()
	j := &Job{
		ID:           uuid.NewString(),
		Prompt:       prompt,
		ConfigName:   configName,
		TemplateName: templateName,
		Status:       StatusQueued,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	j.recordEvent(EventJobCreated)
	return j
}

// MarkProcessing transitions QUEUED -> PROCESSING when a worker picks the
// job up.
func (j *Job) MarkProcessing() error {
	return j.transition(StatusProcessing)
}

// Complete transitions PROCESSING -> COMPLETED and records the validated
// result. Completion implies the response validator judged the text valid.
func (j *Job) Complete(result string) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.Error = ""
	j.NextRetryAt = nil
	j.recordEvent(EventJobCompleted)
	return nil
}

// Fail transitions PROCESSING -> FAILED with a terminal error string.
func (j *Job) Fail(errMsg string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.NextRetryAt = nil
	j.recordEvent(EventJobFailed)
	return nil
}

// MarkForRetry consumes one retry: increments RetryCount, transitions
// PROCESSING -> RETRYING, records the failure reason and sets NextRetryAt to
// now+delay. Callers must check CanRetry first; exceeding the budget is an
// error and leaves the job unchanged.
func (j *Job) MarkForRetry(delay time.Duration, reason string) error {
	if !j.CanRetry() {
		return fmt.Errorf("%w: retry_count %d of %d", ErrRetryExhausted, j.RetryCount, j.MaxRetries)
	}
	if err := j.transition(StatusRetrying); err != nil {
		return err
	}

	j.RetryCount++
	j.Error = reason
	at := time.Now().UTC().Add(delay)
	j.NextRetryAt = &at
	j.recordEvent(EventJobRetrying)
	return nil
}

// Requeue transitions RETRYING -> QUEUED on delayed redelivery. RetryCount
// is preserved; only NextRetryAt is cleared.
func (j *Job) Requeue() error {
	if err := j.transition(StatusQueued); err != nil {
		return err
	}
	j.NextRetryAt = nil
	return nil
}

// CanRetry reports whether the job has retry budget left.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IsTerminal reports whether the job reached COMPLETED or FAILED.
func (j *Job) IsTerminal() bool {
	return IsTerminal(j.Status)
}

func (j *Job) transition(to Status) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}
