package queue

import "context"

// Queue hands job ids from the submission path to the worker pool in FIFO
// order. Enqueue is called exactly once per job, after the record exists in
// the store; Dequeue blocks until an id is available or ctx is done.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (string, error)
}
