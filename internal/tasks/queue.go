// Package tasks runs deferred side effects (agent dispatch, reap passes, call
// finalization) off the request path.
package tasks

import (
	"context"
	"errors"
	"time"
)

var ErrQueueFull = errors.New("tasks: queue full")

// Task is a background job with a stable type name and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. Handlers must be idempotent; a backend may retry.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption is mapped best-effort by each backend. Zero values mean unspecified.
type EnqueueOption struct {
	ProcessIn time.Duration
	MaxRetry  int
	UniqueTTL time.Duration
}

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
}

// Runner consumes tasks until ctx is canceled.
type Runner interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
