package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned when a MemQ is at capacity. The submission
// boundary turns this into an immediately failed job rather than blocking
// the request.
var ErrQueueFull = errors.New("queue is full")

// MemQ is a Queue on a buffered channel, for single-process deployments and
// tests.
type MemQ struct {
	ch chan string
}

func NewMem(capacity int) *MemQ {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemQ{ch: make(chan string, capacity)}
}

func (q *MemQ) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemQ) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
