// Package cache mirrors job status into Redis for fast lookups. The durable
// store stays authoritative; misses and write failures are expected and
// never fatal.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/logger"
)

const defaultTTL = time.Hour

// StatusCache stores a JSON snapshot of each job keyed by id, expiring after
// a TTL.
type StatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewStatusCache creates a status cache. A zero ttl falls back to one hour.
func NewStatusCache(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *StatusCache {
	if prefix == "" {
		prefix = "gogen"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &StatusCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: log,
	}
}

// Set mirrors the job's current state. Errors are logged, not returned.
func (c *StatusCache) Set(ctx context.Context, job *domain.Job) {
	if job == nil {
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		c.logger.Warn("failed to serialize job for cache",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
		return
	}

	if err := c.client.Set(ctx, c.key(job.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache job status",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
	}
}

// Get returns the cached snapshot of a job, or false on a miss or any error.
func (c *StatusCache) Get(ctx context.Context, jobID string) (*domain.Job, bool) {
	payload, err := c.client.Get(ctx, c.key(jobID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to read cached job status",
				logger.String("job_id", jobID),
				logger.Error(err),
			)
		}
		return nil, false
	}

	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		c.logger.Warn("discarding unreadable cache entry",
			logger.String("job_id", jobID),
			logger.Error(err),
		)
		return nil, false
	}
	return &job, true
}

func (c *StatusCache) key(jobID string) string {
	return fmt.Sprintf("%s:job:%s", c.prefix, jobID)
}
