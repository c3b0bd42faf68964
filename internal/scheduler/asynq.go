package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Queue holds delayed presence tasks.
const Queue = "presence"

// Asynq schedules tasks through Redis so they survive a process restart.
// It does not replace tasks by key; handlers must tolerate stale firings.
type Asynq struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

var _ Scheduler = (*Asynq)(nil)

// NewAsynq builds a client and server from a redis:// URL.
func NewAsynq(redisURL string, concurrency int, log *zap.Logger) (*Asynq, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("asynq task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	return &Asynq{
		client: asynq.NewClient(opt),
		server: srv,
		mux:    asynq.NewServeMux(),
		log:    log,
	}, nil
}

// Schedule enqueues task to be processed after delay.
func (a *Asynq) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	if task.Type == "" {
		return errors.New("asynq: task type is required")
	}
	at := asynq.NewTask(task.Type, task.Payload)
	info, err := a.client.EnqueueContext(ctx, at,
		asynq.ProcessIn(delay),
		asynq.Queue(Queue),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}
	a.log.Debug("task enqueued", zap.String("type", task.Type), zap.String("id", info.ID), zap.Duration("delay", delay))
	return nil
}

// Register sets the handler for a task type.
func (a *Asynq) Register(taskType string, handler HandlerFunc) {
	a.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	})
}

// Run starts the server and blocks until the context is canceled, then shuts down.
func (a *Asynq) Run(ctx context.Context) error {
	if err := a.server.Start(a.mux); err != nil {
		return err
	}
	<-ctx.Done()
	a.server.Shutdown()
	return nil
}

// Close closes the enqueue client.
func (a *Asynq) Close() error {
	return a.client.Close()
}
