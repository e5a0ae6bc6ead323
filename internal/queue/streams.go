// Package queue moves generation jobs through Redis: a Streams-based intake
// queue with consumer groups, and a sorted-set side store for delayed
// redelivery of retried jobs.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "gogen"

// StreamsClient binds a Redis client to the queue's key layout: one intake
// stream read through consumer groups, and one sorted set holding deliveries
// that are not due yet. Every method operates on those two keys, so callers
// never pass key names around.
//
// The client does not own the connection. Whoever constructed the underlying
// *redis.Client closes it.
type StreamsClient struct {
	client     *redis.Client
	stream     string
	delayedSet string
}

// NewStreamsClientFromRedis binds client to the queue keys under prefix.
func NewStreamsClientFromRedis(client *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsClient{
		client:     client,
		stream:     prefix + ":jobs",
		delayedSet: prefix + ":jobs:delayed",
	}
}

// EnsureGroup creates group on the intake stream, creating the stream as
// needed. Calling it when the group already exists is not an error.
func (c *StreamsClient) EnsureGroup(ctx context.Context, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, group, "0").Err()
	if err != nil && !redis.HasErrorPrefix(err, "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

// Append adds one entry to the intake stream and returns its id.
func (c *StreamsClient) Append(ctx context.Context, values map[string]any) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: values,
	}).Result()
}

// ReadGroup blocks up to block waiting for at most count entries that have
// never been delivered to group before.
func (c *StreamsClient) ReadGroup(
	ctx context.Context, group, consumer string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
}

// Ack removes entries from group's pending list.
func (c *StreamsClient) Ack(ctx context.Context, group string, ids ...string) error {
	return c.client.XAck(ctx, c.stream, group, ids...).Err()
}

// PendingSummary reports how many deliveries group has not acknowledged.
func (c *StreamsClient) PendingSummary(ctx context.Context, group string) (*redis.XPending, error) {
	return c.client.XPending(ctx, c.stream, group).Result()
}

// PendingEntries lists up to count unacknowledged deliveries with their
// idle times.
func (c *StreamsClient) PendingEntries(ctx context.Context, group string, count int64) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim transfers pending deliveries idle for at least minIdle to consumer.
func (c *StreamsClient) Claim(
	ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// Len returns the intake stream length.
func (c *StreamsClient) Len(ctx context.Context) (int64, error) {
	return c.client.XLen(ctx, c.stream).Result()
}

// TrimMaxLen drops the oldest intake entries beyond maxLen.
func (c *StreamsClient) TrimMaxLen(ctx context.Context, maxLen int64) error {
	return c.client.XTrimMaxLen(ctx, c.stream, maxLen).Err()
}

// Defer stores payload in the delayed set, scored by its due time.
func (c *StreamsClient) Defer(ctx context.Context, payload string, due time.Time) error {
	return c.client.ZAdd(ctx, c.delayedSet, redis.Z{
		Score:  unixScore(due),
		Member: payload,
	}).Err()
}

// DueDeferred returns every deferred payload due at or before now.
func (c *StreamsClient) DueDeferred(ctx context.Context, now time.Time) ([]string, error) {
	return c.client.ZRangeByScore(ctx, c.delayedSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(unixScore(now), 'f', -1, 64),
	}).Result()
}

// DropDeferred removes payload from the delayed set.
func (c *StreamsClient) DropDeferred(ctx context.Context, payload string) error {
	return c.client.ZRem(ctx, c.delayedSet, payload).Err()
}

// DeferredDepth returns the number of deliveries waiting for their due time.
func (c *StreamsClient) DeferredDepth(ctx context.Context) (int64, error) {
	return c.client.ZCard(ctx, c.delayedSet).Result()
}

// unixScore encodes t as the delayed set's score, fractional Unix seconds.
func unixScore(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1e3
}
