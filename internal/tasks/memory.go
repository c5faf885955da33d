package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// promoteEvery is how often Run moves due delayed tasks onto the buffer.
const promoteEvery = 250 * time.Millisecond

type delayedTask struct {
	due  time.Time
	task Task
}

// MemoryQueue is a bounded in-process queue consumed by a fixed worker pool.
// Tests skip Run and call Drain to execute pending work deterministically.
//
// ProcessIn holds a task back until it is due. UniqueTTL drops an identical
// task (same type and payload) enqueued within the window.
type MemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	delayMu sync.Mutex
	delayed []delayedTask
	unique  map[string]time.Time

	ch      chan Task
	workers int
	log     *slog.Logger
	now     func() time.Time
}

func NewMemoryQueue(size, workers int, log *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryQueue{
		handlers: map[string]Handler{},
		unique:   map[string]time.Time{},
		ch:       make(chan Task, size),
		workers:  workers,
		log:      log,
		now:      time.Now,
	}
}

func (q *MemoryQueue) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue never blocks. MaxRetry is ignored in memory. A duplicate inside a
// UniqueTTL window returns an empty id and no error, like the asynq adapter.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", fmt.Errorf("tasks: task type is required")
	}
	var op EnqueueOption
	if len(opts) > 0 {
		op = opts[0]
	}

	now := q.now()
	if op.UniqueTTL > 0 {
		key := t.Type + "\x00" + string(t.Payload)
		q.delayMu.Lock()
		if until, ok := q.unique[key]; ok && now.Before(until) {
			q.delayMu.Unlock()
			return "", nil
		}
		q.unique[key] = now.Add(op.UniqueTTL)
		q.delayMu.Unlock()
	}

	if op.ProcessIn > 0 {
		q.delayMu.Lock()
		q.delayed = append(q.delayed, delayedTask{due: now.Add(op.ProcessIn), task: t})
		q.delayMu.Unlock()
		return uuid.NewString(), nil
	}

	select {
	case q.ch <- t:
		return uuid.NewString(), nil
	default:
		return "", ErrQueueFull
	}
}

// Pending reports buffered tasks that are due and not yet picked up.
func (q *MemoryQueue) Pending() int {
	q.promote()
	return len(q.ch)
}

// Delayed reports tasks still waiting on ProcessIn.
func (q *MemoryQueue) Delayed() int {
	q.delayMu.Lock()
	defer q.delayMu.Unlock()
	return len(q.delayed)
}

// promote moves due delayed tasks onto the buffer and forgets expired unique
// keys. A due task that finds the buffer full waits for the next promotion.
func (q *MemoryQueue) promote() {
	now := q.now()
	q.delayMu.Lock()
	defer q.delayMu.Unlock()

	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if now.Before(d.due) {
			kept = append(kept, d)
			continue
		}
		select {
		case q.ch <- d.task:
		default:
			kept = append(kept, d)
		}
	}
	q.delayed = kept

	for k, until := range q.unique {
		if !now.Before(until) {
			delete(q.unique, k)
		}
	}
}

// Run starts the workers and blocks until ctx is canceled and in-flight tasks finish.
// Tasks still buffered at that point stay queued for Drain.
func (q *MemoryQueue) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(promoteEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.promote()
			}
		}
	}()

	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-q.ch:
					// in-flight work is not canceled with the server
					q.process(context.WithoutCancel(ctx), t)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Drain runs due tasks on the calling goroutine, including tasks enqueued by
// handlers while draining, until the buffer is empty or ctx is done. Tasks
// whose ProcessIn has not elapsed stay delayed.
func (q *MemoryQueue) Drain(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		q.promote()
		select {
		case t := <-q.ch:
			q.process(ctx, t)
			n++
		default:
			return n
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, t Task) {
	q.mu.RLock()
	h, ok := q.handlers[t.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Warn("no handler for task", "task", t.Type)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			q.log.Error("task panicked", "task", t.Type, "panic", fmt.Sprint(p))
		}
	}()
	if err := h(ctx, t); err != nil {
		q.log.Error("task failed", "task", t.Type, "err", err)
	}
}
