package queue

import (
	"context"
	"fmt"
)

const (
	// Default max stream length to prevent unbounded growth.
	defaultMaxStreamLen = 10000
)

// Producer handles enqueueing jobs to the intake stream.
type Producer struct {
	client       *StreamsClient
	maxStreamLen int64
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	MaxStreamLen int64 // Maximum stream length (0 = default)
}

// NewProducer creates a new job producer.
func NewProducer(client *StreamsClient, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	return &Producer{
		client:       client,
		maxStreamLen: maxLen,
	}
}

// Enqueue adds a request to the intake stream and returns the message id.
func (p *Producer) Enqueue(ctx context.Context, req *JobRequest) (string, error) {
	values, err := encodeRequest(req)
	if err != nil {
		return "", err
	}

	messageID, addErr := p.client.Append(ctx, values)
	if addErr != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", req.JobID, addErr)
	}

	return messageID, nil
}

// Trim caps the intake stream at the configured maximum length.
func (p *Producer) Trim(ctx context.Context) error {
	return p.client.TrimMaxLen(ctx, p.maxStreamLen)
}

// Depth returns the current length of the intake stream.
func (p *Producer) Depth(ctx context.Context) (int64, error) {
	return p.client.Len(ctx)
}
