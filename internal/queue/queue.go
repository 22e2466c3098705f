package queue

import (
	"context"
	"errors"
	"time"

	"docvoice/internal/redis"
)

// ErrEmpty means no job was available within the dequeue wait window.
var ErrEmpty = errors.New("queue empty")

// Queue is the durable job queue the orchestrator consumes. Delivery is
// at-least-once; consumers must tolerate duplicate job ids.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks for a bounded interval and returns ErrEmpty on timeout
	// so callers can observe context cancellation between waits.
	Dequeue(ctx context.Context) (string, error)
}

const dequeueWait = 2 * time.Second

// RedisQueue is a redis-list backed Queue. LPUSH + BRPOP gives FIFO order
// and survives process restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, q.key, jobID)
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	jobID, err := q.client.BRPop(ctx, dequeueWait, q.key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", ErrEmpty
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return jobID, nil
}

// MemoryQueue is a channel-backed Queue for tests and single-process runs.
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue creates an in-memory queue with the given capacity.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("queue full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	timer := time.NewTimer(dequeueWait)
	defer timer.Stop()
	select {
	case jobID := <-q.ch:
		return jobID, nil
	case <-timer.C:
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
