package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gogen/internal/logger"
)

const (
	// Default consumer group name.
	defaultConsumerGroup = "workers"

	// Default block timeout for reading from the stream.
	defaultBlockTimeout = 5 * time.Second

	// Default count of messages to read per batch.
	defaultBatchSize = 10

	// Default minimum idle time before claiming pending messages. This is
	// the visibility window for jobs whose worker died mid-processing.
	defaultClaimMinIdle = 5 * time.Minute

	// Maximum pending messages to check at once.
	maxPendingCheck = 100
)

// Consumer reads job requests from the intake stream.
type Consumer struct {
	client        *StreamsClient
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
	logger        logger.Logger
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	ConsumerGroup string        // Consumer group name
	ConsumerID    string        // Unique consumer identifier
	BlockTimeout  time.Duration // Block timeout for reads (0 = default)
	BatchSize     int64         // Number of messages per read (0 = default)
	ClaimMinIdle  time.Duration // Min idle time before claiming (0 = default)
}

// NewConsumer creates a new job consumer.
func NewConsumer(client *StreamsClient, cfg ConsumerConfig, log logger.Logger) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
		claimMinIdle:  claimMinIdle,
		logger:        log,
	}, nil
}

// Initialize creates the consumer group on the intake stream.
func (c *Consumer) Initialize(ctx context.Context) error {
	return c.client.EnsureGroup(ctx, c.consumerGroup)
}

// Read returns the next batch of messages. Deliveries abandoned by a dead
// worker are reclaimed first; otherwise the call blocks up to the configured
// timeout waiting for new messages.
func (c *Consumer) Read(ctx context.Context) ([]*Message, error) {
	reclaimed := c.reclaimPending(ctx)
	if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	return c.readNewMessages(ctx)
}

// Ack acknowledges one delivery by message id.
func (c *Consumer) Ack(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("message id is required")
	}
	return c.client.Ack(ctx, c.consumerGroup, messageID)
}

// PendingCount returns the number of delivered-but-unacknowledged messages.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	pending, err := c.client.PendingSummary(ctx, c.consumerGroup)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return pending.Count, nil
}

// readNewMessages reads undelivered messages from the intake stream.
func (c *Consumer) readNewMessages(ctx context.Context) ([]*Message, error) {
	result, err := c.client.ReadGroup(ctx, c.consumerGroup, c.consumerID, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No messages available
		}
		return nil, fmt.Errorf("failed to read from intake stream: %w", err)
	}

	return c.parseMessages(ctx, result), nil
}

// reclaimPending claims deliveries that have sat unacknowledged past the
// idle threshold, so a crashed worker's jobs are picked up again.
func (c *Consumer) reclaimPending(ctx context.Context) []*Message {
	pending, err := c.client.PendingEntries(ctx, c.consumerGroup, maxPendingCheck)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to inspect pending messages", logger.Error(err))
		}
		return nil
	}

	var idsToReclaim []string
	for _, entry := range pending {
		if entry.Idle >= c.claimMinIdle {
			idsToReclaim = append(idsToReclaim, entry.ID)
		}
	}
	if len(idsToReclaim) == 0 {
		return nil
	}

	claimed, err := c.client.Claim(ctx, c.consumerGroup, c.consumerID, c.claimMinIdle, idsToReclaim...)
	if err != nil {
		c.logger.Warn("failed to claim pending messages", logger.Error(err))
		return nil
	}

	var messages []*Message
	for _, msg := range claimed {
		parsed, parseErr := decodeMessage(msg)
		if parseErr != nil {
			c.dropPoison(ctx, msg.ID, parseErr)
			continue
		}
		parsed.Reclaimed = true
		messages = append(messages, parsed)
	}
	if len(messages) > 0 {
		c.logger.Info("reclaimed abandoned deliveries", logger.Int("count", len(messages)))
	}
	return messages
}

// parseMessages decodes a read result, dropping poison messages.
func (c *Consumer) parseMessages(ctx context.Context, streams []redis.XStream) []*Message {
	var messages []*Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, err := decodeMessage(msg)
			if err != nil {
				c.dropPoison(ctx, msg.ID, err)
				continue
			}
			messages = append(messages, parsed)
		}
	}
	return messages
}

// dropPoison acknowledges an undecodable message so it is not redelivered
// forever.
func (c *Consumer) dropPoison(ctx context.Context, messageID string, cause error) {
	c.logger.Warn("dropping malformed queue message",
		logger.String("message_id", messageID),
		logger.Error(cause),
	)
	if err := c.Ack(ctx, messageID); err != nil {
		c.logger.Warn("failed to acknowledge malformed message", logger.Error(err))
	}
}

// ConsumerGroup returns the consumer group name.
func (c *Consumer) ConsumerGroup() string {
	return c.consumerGroup
}

// ConsumerID returns the consumer ID.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}
