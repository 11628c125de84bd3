// Package queue hands batch jobs from the API to the worker. Redis Streams
// back multi-process deployments; the in-memory queue serves single-process
// runs and tests.
package queue

import (
	"context"
	"time"
)

// Queue is the batch job hand-off between the API and the worker loop.
type Queue interface {
	// Enqueue appends one JSON-encoded batch job.
	Enqueue(ctx context.Context, payload []byte) error
	// Dequeue blocks up to timeout for the next job. A nil payload with nil
	// error means the timeout elapsed.
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (msgID string, payload []byte, err error)
	// Ack marks a dequeued message as processed.
	Ack(ctx context.Context, msgID string) error
	// Cancel flags a batch so the worker stops it at the next document
	// boundary.
	Cancel(ctx context.Context, batchID string) error
	// IsCancelled reports whether a batch has been flagged.
	IsCancelled(ctx context.Context, batchID string) (bool, error)
	// Depth returns the approximate number of queued jobs.
	Depth(ctx context.Context) (int64, error)
	Close() error
}
