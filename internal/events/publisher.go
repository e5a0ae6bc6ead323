// Package events publishes job lifecycle notifications. Publishing is
// best-effort: the state machine never depends on an event being delivered.
package events

import (
	"context"
	"time"

	"github.com/jonesrussell/gogen/internal/domain"
)

// Publisher emits job lifecycle events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Envelope is the wire form of one notification.
type Envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEnvelope(id string, event domain.Event) Envelope {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	payload := map[string]any{
		"status":      string(event.Status),
		"retry_count": event.RetryCount,
	}
	if event.Error != "" {
		payload["error"] = event.Error
	}

	return Envelope{
		EventID:   id,
		EventType: string(event.Type),
		JobID:     event.JobID,
		Timestamp: ts,
		Payload:   payload,
	}
}
