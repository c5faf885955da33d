package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"carecall-rtc/pkg/logger"
)

func TestMemoryQueue_DrainRunsHandlers(t *testing.T) {
	q := NewMemoryQueue(8, 1, logger.Discard())

	var got ReapRoomPayload
	q.Register(TypeReapRoom, func(ctx context.Context, task Task) error {
		return Decode(task, &got)
	})

	task, err := NewReapRoom(ReapRoomPayload{RoomName: "room-abc"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if q.Pending() != 1 {
		t.Fatalf("expected pending task before drain")
	}
	if got.RoomName != "" {
		t.Fatalf("handler must not run on enqueue")
	}

	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected 1 drained, got %d", n)
	}
	if got.RoomName != "room-abc" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestMemoryQueue_DrainFollowsChainedTasks(t *testing.T) {
	q := NewMemoryQueue(8, 1, logger.Discard())
	var finalized int32
	q.Register("a", func(ctx context.Context, task Task) error {
		_, err := q.Enqueue(ctx, Task{Type: "b"})
		return err
	})
	q.Register("b", func(ctx context.Context, task Task) error {
		atomic.AddInt32(&finalized, 1)
		return errors.New("logged, not fatal")
	})

	_, _ = q.Enqueue(context.Background(), Task{Type: "a"})
	if n := q.Drain(context.Background()); n != 2 {
		t.Fatalf("expected 2 drained, got %d", n)
	}
	if atomic.LoadInt32(&finalized) != 1 {
		t.Fatalf("expected chained task to run")
	}
}

func TestMemoryQueue_FullBufferRejects(t *testing.T) {
	q := NewMemoryQueue(1, 1, logger.Discard())
	if _, err := q.Enqueue(context.Background(), Task{Type: "x"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), Task{Type: "x"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestMemoryQueue_RunProcessesUntilCanceled(t *testing.T) {
	q := NewMemoryQueue(8, 2, logger.Discard())
	done := make(chan struct{})
	q.Register("x", func(ctx context.Context, task Task) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(stopped)
	}()

	_, _ = q.Enqueue(context.Background(), Task{Type: "x"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task not processed")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestMemoryQueue_PanicIsContained(t *testing.T) {
	q := NewMemoryQueue(4, 1, logger.Discard())
	q.Register("p", func(ctx context.Context, task Task) error { panic("boom") })
	_, _ = q.Enqueue(context.Background(), Task{Type: "p"})
	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected drain to survive panic")
	}
}

func TestMemoryQueue_ProcessInHoldsTaskUntilDue(t *testing.T) {
	q := NewMemoryQueue(8, 1, logger.Discard())
	now := time.Unix(1700000000, 0)
	q.now = func() time.Time { return now }

	var runs int32
	q.Register(TypeReapRoom, func(ctx context.Context, task Task) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	task, _ := NewReapRoom(ReapRoomPayload{RoomName: "room-abc"})
	if _, err := q.Enqueue(context.Background(), task, EnqueueOption{ProcessIn: 20 * time.Second}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if q.Drain(context.Background()) != 0 || q.Delayed() != 1 {
		t.Fatalf("expected task held back, delayed=%d", q.Delayed())
	}

	now = now.Add(20 * time.Second)
	if q.Pending() != 1 {
		t.Fatalf("expected task due after its delay")
	}
	if q.Drain(context.Background()) != 1 || atomic.LoadInt32(&runs) != 1 || q.Delayed() != 0 {
		t.Fatalf("expected delayed task to run once")
	}
}

func TestMemoryQueue_UniqueTTLCollapsesDuplicates(t *testing.T) {
	q := NewMemoryQueue(8, 1, logger.Discard())
	now := time.Unix(1700000000, 0)
	q.now = func() time.Time { return now }
	opt := EnqueueOption{UniqueTTL: 5 * time.Second}

	a, _ := NewReapRoom(ReapRoomPayload{RoomName: "room-abc"})
	b, _ := NewReapRoom(ReapRoomPayload{RoomName: "room-other"})
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(context.Background(), a, opt); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := q.Enqueue(context.Background(), b, opt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if q.Pending() != 2 {
		t.Fatalf("expected one task per room, got %d", q.Pending())
	}

	now = now.Add(5 * time.Second)
	if id, err := q.Enqueue(context.Background(), a, opt); err != nil || id == "" {
		t.Fatalf("expected enqueue after the window, id=%q err=%v", id, err)
	}
	if q.Pending() != 3 {
		t.Fatalf("expected window expiry to admit the task, got %d", q.Pending())
	}
}
