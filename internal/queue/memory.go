package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue for deployments without Redis.
type MemoryQueue struct {
	mu        sync.Mutex
	jobs      chan []byte
	cancelled map[string]bool
	nextID    int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:      make(chan []byte, 256),
		cancelled: make(map[string]bool),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload []byte) error {
	q.jobs <- payload
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, _ string, timeout time.Duration) (string, []byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-timer.C:
		return "", nil, nil
	case payload := <-q.jobs:
		q.mu.Lock()
		q.nextID++
		id := strconv.Itoa(q.nextID)
		q.mu.Unlock()
		return id, payload, nil
	}
}

func (q *MemoryQueue) Ack(context.Context, string) error { return nil }

func (q *MemoryQueue) Cancel(_ context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[batchID] = true
	return nil
}

func (q *MemoryQueue) IsCancelled(_ context.Context, batchID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[batchID], nil
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}

func (q *MemoryQueue) Close() error { return nil }
