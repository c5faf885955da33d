package tasks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

const asynqQueue = "rtc"

// AsynqClient enqueues onto Redis so deferred work survives a restart.
type AsynqClient struct {
	client *asynq.Client
}

func NewAsynqClient(redisAddr string) *AsynqClient {
	return &AsynqClient{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

var _ Enqueuer = (*AsynqClient)(nil)

func (a *AsynqClient) Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	asynqOpts := []asynq.Option{asynq.Queue(asynqQueue), asynq.MaxRetry(3)}
	if len(opts) > 0 {
		op := opts[0]
		if op.ProcessIn > 0 {
			asynqOpts = append(asynqOpts, asynq.ProcessIn(op.ProcessIn))
		}
		if op.MaxRetry > 0 {
			asynqOpts = append(asynqOpts, asynq.MaxRetry(op.MaxRetry))
		}
		if op.UniqueTTL > 0 {
			asynqOpts = append(asynqOpts, asynq.Unique(op.UniqueTTL))
		}
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), asynqOpts...)
	if err != nil {
		// a duplicate unique task means the work is already scheduled
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return "", nil
		}
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

// AsynqServer runs registered handlers against the rtc queue.
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqServer(redisAddr string, concurrency int, log *slog.Logger) *AsynqServer {
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{asynqQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", "task", task.Type(), "err", err)
		}),
	})
	return &AsynqServer{server: srv, mux: asynq.NewServeMux()}
}

var _ Runner = (*AsynqServer)(nil)

func (s *AsynqServer) Register(taskType string, h Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	})
}

// Run blocks until ctx is canceled, then shuts the server down gracefully.
func (s *AsynqServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
