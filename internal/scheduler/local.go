package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const handlerTimeout = 30 * time.Second

// Local is a process-level timer registry. Timers belong to the registry, so they
// keep running after whoever scheduled them is gone. Pending tasks are lost on restart.
type Local struct {
	log *zap.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	timers   map[string]pendingTask
	handlers map[string]HandlerFunc
	seq      uint64
	closed   bool
	inflight sync.WaitGroup
}

type pendingTask struct {
	timer *time.Timer
	seq   uint64
}

var _ Scheduler = (*Local)(nil)

// NewLocal creates an in-process scheduler.
func NewLocal(log *zap.Logger) *Local {
	return &Local{
		log:      log,
		baseCtx:  context.Background(),
		timers:   make(map[string]pendingTask),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register sets the handler for a task type.
func (l *Local) Register(taskType string, handler HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[taskType] = handler
}

// Schedule arms a timer for task. A pending task with the same key is stopped and replaced.
func (l *Local) Schedule(_ context.Context, task Task, delay time.Duration) error {
	if task.Type == "" {
		return errors.New("scheduler: task type is required")
	}
	if task.Key == "" {
		task.Key = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	if old, ok := l.timers[task.Key]; ok {
		old.timer.Stop()
	}
	l.seq++
	seq := l.seq
	l.timers[task.Key] = pendingTask{
		timer: time.AfterFunc(delay, func() { l.fire(task, seq) }),
		seq:   seq,
	}
	return nil
}

func (l *Local) fire(task Task, seq uint64) {
	l.mu.Lock()
	if current, ok := l.timers[task.Key]; l.closed || !ok || current.seq != seq {
		l.mu.Unlock()
		return
	}
	delete(l.timers, task.Key)
	handler := l.handlers[task.Type]
	ctx := l.baseCtx
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	if handler == nil {
		l.log.Warn("no handler for task", zap.String("type", task.Type), zap.String("key", task.Key))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	if err := handler(ctx, task); err != nil {
		l.log.Warn("task failed", zap.String("type", task.Type), zap.String("key", task.Key), zap.Error(err))
	}
}

// Pending reports whether a task with key is armed.
func (l *Local) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[key]
	return ok
}

// Run makes ctx the parent of handler contexts and blocks until it is canceled.
func (l *Local) Run(ctx context.Context) error {
	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()
	<-ctx.Done()
	return nil
}

// Close stops every pending timer and waits for running handlers.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for key, p := range l.timers {
		p.timer.Stop()
		delete(l.timers, key)
	}
	l.mu.Unlock()

	l.inflight.Wait()
	return nil
}
