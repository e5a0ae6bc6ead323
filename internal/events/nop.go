package events

import (
	"context"

	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/logger"
)

// NopPublisher logs events but delivers them nowhere. Used when no event
// consumer is deployed.
type NopPublisher struct {
	log logger.Logger
}

// NewNopPublisher creates a publisher that drops everything.
func NewNopPublisher(log logger.Logger) *NopPublisher {
	return &NopPublisher{log: log}
}

// Publish logs the event and returns nil.
func (p *NopPublisher) Publish(_ context.Context, event domain.Event) error {
	if p.log != nil {
		p.log.Debug("[NOOP] event dropped",
			logger.String("event_type", string(event.Type)),
			logger.String("job_id", event.JobID),
		)
	}
	return nil
}
