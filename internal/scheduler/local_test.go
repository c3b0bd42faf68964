package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFiresTask(t *testing.T) {
	s := NewLocal(zap.NewNop())
	defer s.Close()

	got := make(chan Task, 1)
	s.Register("check", func(ctx context.Context, task Task) error {
		got <- task
		return nil
	})

	require.NoError(t, s.Schedule(context.Background(), Task{Type: "check", Key: "k", Payload: []byte("x")}, 10*time.Millisecond))

	select {
	case task := <-got:
		assert.Equal(t, "x", string(task.Payload))
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.False(t, s.Pending("k"))
}

func TestLocalSameKeyReplaces(t *testing.T) {
	s := NewLocal(zap.NewNop())
	defer s.Close()

	var calls atomic.Int32
	fired := make(chan string, 2)
	s.Register("check", func(ctx context.Context, task Task) error {
		calls.Add(1)
		fired <- string(task.Payload)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.Schedule(ctx, Task{Type: "check", Key: "p1", Payload: []byte("old")}, 20*time.Millisecond))
	require.NoError(t, s.Schedule(ctx, Task{Type: "check", Key: "p1", Payload: []byte("new")}, 40*time.Millisecond))

	select {
	case payload := <-fired:
		assert.Equal(t, "new", payload)
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocalCloseStopsTimers(t *testing.T) {
	s := NewLocal(zap.NewNop())

	var calls atomic.Int32
	s.Register("check", func(ctx context.Context, task Task) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, s.Schedule(context.Background(), Task{Type: "check", Key: "k"}, 20*time.Millisecond))
	require.True(t, s.Pending("k"))

	require.NoError(t, s.Close())
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, calls.Load())

	err := s.Schedule(context.Background(), Task{Type: "check"}, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}
