package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/logger"
)

const defaultEventStream = "gogen:events"

// EventDataField is the stream field holding the serialized envelope.
const EventDataField = "event"

// RedisPublisher appends each event to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger logger.Logger
}

// NewRedisPublisher creates a publisher writing to stream (default
// "gogen:events").
func NewRedisPublisher(client *redis.Client, stream string, log logger.Logger) *RedisPublisher {
	if stream == "" {
		stream = defaultEventStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		logger: log,
	}
}

// Publish appends the event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	env := newEnvelope(uuid.NewString(), event)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize %s event: %w", event.Type, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{EventDataField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("event published",
		logger.String("event_type", string(event.Type)),
		logger.String("job_id", event.JobID),
	)
	return nil
}

// Stream returns the stream key events are appended to.
func (p *RedisPublisher) Stream() string {
	return p.stream
}
