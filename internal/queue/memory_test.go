package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	if err := q.Enqueue(context.Background(), []byte("job-1")); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Depth(context.Background()); n != 1 {
		t.Fatalf("Depth = %d, want 1", n)
	}

	id, payload, err := q.Dequeue(context.Background(), "w", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || string(payload) != "job-1" {
		t.Fatalf("Dequeue = (%q, %q)", id, payload)
	}
	if err := q.Ack(context.Background(), id); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	_, payload, err := q.Dequeue(context.Background(), "w", 10*time.Millisecond)
	if err != nil || payload != nil {
		t.Fatalf("empty queue: got (%q, %v), want timeout with nil payload", payload, err)
	}
}

func TestMemoryQueueCancelFlag(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	if got, _ := q.IsCancelled(context.Background(), "b1"); got {
		t.Fatal("fresh batch reported cancelled")
	}
	if err := q.Cancel(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := q.IsCancelled(context.Background(), "b1"); !got {
		t.Fatal("cancel flag not recorded")
	}
}
