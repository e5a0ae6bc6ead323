package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gogen/internal/domain"
)

const (
	// JobDataField is the field name for the serialized request in stream messages.
	JobDataField = "job"

	// EnqueuedAtField is the field name for the enqueue timestamp.
	EnqueuedAtField = "enqueued_at"

	// RetryCountField is the field name for the job-level retry count.
	RetryCountField = "retry_count"
)

// JobRequest is the payload for one generation attempt. The durable Job in
// the store stays authoritative; the request carries the routing hints that
// only exist per submission, plus retry stamps for observability.
type JobRequest struct {
	JobID            string     `json:"job_id"`
	Prompt           string     `json:"prompt"`
	ConfigName       string     `json:"config_name"`
	TemplateName     string     `json:"template_name,omitempty"`
	IsFollowup       bool       `json:"is_followup,omitempty"`
	PreviousTopic    string     `json:"previous_topic,omitempty"`
	SkipModeration   bool       `json:"skip_moderation,omitempty"`
	RetryCount       int        `json:"retry_count"`
	PreviousError    string     `json:"previous_error,omitempty"`
	RetryScheduledAt *time.Time `json:"retry_scheduled_at,omitempty"`
}

// NewJobRequest builds the first-delivery payload for a job.
func NewJobRequest(job *domain.Job) *JobRequest {
	return &JobRequest{
		JobID:        job.ID,
		Prompt:       job.Prompt,
		ConfigName:   job.ConfigName,
		TemplateName: job.TemplateName,
		RetryCount:   job.RetryCount,
	}
}

// Message is one delivery read from the intake stream.
type Message struct {
	ID         string
	Request    *JobRequest
	EnqueuedAt time.Time
	RetryCount int
	// Reclaimed marks a delivery taken over from a consumer that went
	// quiet past the visibility window. The job may have been left
	// mid-attempt rather than queued.
	Reclaimed bool
}

// encodeRequest serializes a request into stream message fields.
func encodeRequest(req *JobRequest) (map[string]any, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if req.JobID == "" {
		return nil, errors.New("request is missing a job id")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	return map[string]any{
		JobDataField:    string(payload),
		EnqueuedAtField: time.Now().UTC().Format(time.RFC3339),
		RetryCountField: strconv.Itoa(req.RetryCount),
	}, nil
}

// decodeMessage parses a stream message into a Message.
func decodeMessage(msg redis.XMessage) (*Message, error) {
	payload, ok := msg.Values[JobDataField].(string)
	if !ok {
		return nil, errors.New("missing or invalid job data")
	}

	var req JobRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if req.JobID == "" {
		return nil, errors.New("request is missing a job id")
	}

	out := &Message{
		ID:         msg.ID,
		Request:    &req,
		RetryCount: req.RetryCount,
	}

	if enqueuedStr, hasEnqueued := msg.Values[EnqueuedAtField].(string); hasEnqueued {
		if t, parseErr := time.Parse(time.RFC3339, enqueuedStr); parseErr == nil {
			out.EnqueuedAt = t
		}
	}
	if countStr, hasCount := msg.Values[RetryCountField].(string); hasCount {
		if n, parseErr := strconv.Atoi(countStr); parseErr == nil {
			out.RetryCount = n
		}
	}

	return out, nil
}
