package cache

import (
	"context"
	"fmt"
	"time"

	"docvoice/internal/models"
	"docvoice/internal/redis"
)

const statusTTL = 30 * time.Second

// Status is a best-effort read-through cache for job status, keeping
// poll-heavy clients off the database. All methods are safe on a nil
// receiver so the cache can be absent entirely.
type Status struct {
	client *redis.Client
}

func NewStatus(client *redis.Client) *Status {
	if client == nil {
		return nil
	}
	return &Status{client: client}
}

// Entries are keyed by owner as well as job id, so a cache hit carries the
// same scoping as a database read through GetForOwner.
func statusKey(ownerID int64, jobID string) string {
	return fmt.Sprintf("docvoice:user:%d:job:%s:status", ownerID, jobID)
}

// Get returns the cached status, or false on miss or any redis trouble.
func (c *Status) Get(ctx context.Context, ownerID int64, jobID string) (models.JobStatus, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, statusKey(ownerID, jobID))
	if err != nil {
		return "", false
	}
	status := models.JobStatus(val)
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Set records the status. Failures are swallowed; the database stays
// authoritative.
func (c *Status) Set(ctx context.Context, ownerID int64, jobID string, status models.JobStatus) {
	if c == nil {
		return
	}
	_ = c.client.Set(ctx, statusKey(ownerID, jobID), string(status), statusTTL)
}

// Invalidate drops the cached entry, for job deletion.
func (c *Status) Invalidate(ctx context.Context, ownerID int64, jobID string) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, statusKey(ownerID, jobID))
}
