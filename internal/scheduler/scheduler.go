// Package scheduler runs delayed tasks independently of the connection that scheduled them.
package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("scheduler: closed")

// Task is a unit of delayed work. Tasks with the same non-empty Key replace each other
// where the backend supports it.
type Task struct {
	Type    string
	Key     string
	Payload []byte
}

// HandlerFunc processes a fired task.
type HandlerFunc func(ctx context.Context, task Task) error

// Scheduler schedules tasks to run after a delay.
type Scheduler interface {
	Schedule(ctx context.Context, task Task, delay time.Duration) error
	Register(taskType string, handler HandlerFunc)
	// Run blocks until ctx is canceled.
	Run(ctx context.Context) error
	Close() error
}
