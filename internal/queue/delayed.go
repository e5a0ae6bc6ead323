package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// minDelay is the floor applied to scheduled redeliveries; anything shorter
// is effectively immediate and skips the sorted set's purpose.
const minDelay = 100 * time.Millisecond

// Delayed defers job redelivery: each scheduled request sits in the delayed
// set scored by its ready time until a mover pass pushes it back onto the
// intake stream.
type Delayed struct {
	client *StreamsClient
}

// NewDelayed creates a delayed-delivery store on the shared streams client.
func NewDelayed(client *StreamsClient) *Delayed {
	return &Delayed{client: client}
}

// Schedule stores req for redelivery no earlier than delay from now.
func (d *Delayed) Schedule(ctx context.Context, req *JobRequest, delay time.Duration) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if delay < minDelay {
		delay = minDelay
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	if err := d.client.Defer(ctx, string(payload), time.Now().Add(delay)); err != nil {
		return fmt.Errorf("failed to schedule delayed delivery: %w", err)
	}
	return nil
}

// MoveDue re-enqueues every entry due at or before now and returns how many
// moved. The stream append happens before the set removal, so a crash between
// the two redelivers the entry instead of losing it; the job state machine
// rejects the duplicate attempt.
func (d *Delayed) MoveDue(ctx context.Context, now time.Time) (int, error) {
	members, err := d.client.DueDeferred(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to read due deliveries: %w", err)
	}

	moved := 0
	for _, member := range members {
		var req JobRequest
		if err := json.Unmarshal([]byte(member), &req); err != nil {
			// Unreadable entries can never deliver; drop them.
			_ = d.client.DropDeferred(ctx, member)
			continue
		}

		values, err := encodeRequest(&req)
		if err != nil {
			_ = d.client.DropDeferred(ctx, member)
			continue
		}
		if _, err := d.client.Append(ctx, values); err != nil {
			return moved, fmt.Errorf("failed to re-enqueue delayed job %s: %w", req.JobID, err)
		}
		if err := d.client.DropDeferred(ctx, member); err != nil {
			return moved, fmt.Errorf("failed to remove delivered entry: %w", err)
		}
		moved++
	}

	return moved, nil
}

// Depth returns the number of deliveries still waiting for their due time.
func (d *Delayed) Depth(ctx context.Context) (int64, error) {
	return d.client.DeferredDepth(ctx)
}
