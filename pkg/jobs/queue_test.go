package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedQueue(t *testing.T) *SerialQueue {
	t.Helper()
	q := NewSerialQueue("test", SerialQueueConfig{BufferSize: 32})
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestSerialQueueRunsTasksInSubmissionOrder(t *testing.T) {
	q := newStartedQueue(t)

	var mu sync.Mutex
	var order []int

	tickets := make([]*Ticket, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		ticket, err := q.Submit(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	for _, ticket := range tickets {
		require.NoError(t, <-ticket.Result)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestSerialQueueNeverOverlapsTasks(t *testing.T) {
	q := newStartedQueue(t)

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	tickets := make([]*Ticket, 0, 20)
	for i := 0; i < 20; i++ {
		ticket, err := q.Submit(func(context.Context) error {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	for _, ticket := range tickets {
		require.NoError(t, <-ticket.Result)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxRunning)
}

func TestSerialQueueCounters(t *testing.T) {
	q := newStartedQueue(t)

	block := make(chan struct{})
	first, err := q.Submit(func(context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	second, err := q.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, int64(2), q.Requested())
	assert.Equal(t, int64(0), q.Completed())
	assert.Equal(t, int64(2), q.Depth())
	assert.Equal(t, int64(2), q.Position(second.Index))

	close(block)
	require.NoError(t, <-first.Result)
	require.NoError(t, <-second.Result)

	assert.Equal(t, int64(2), q.Requested())
	assert.Equal(t, int64(2), q.Activated())
	assert.Equal(t, int64(2), q.Completed())
	assert.Equal(t, int64(0), q.Depth())
	assert.Equal(t, int64(0), q.Position(second.Index))
}

func TestSerialQueueTaskErrorResolvesTicket(t *testing.T) {
	q := newStartedQueue(t)

	boom := errors.New("boom")
	failing, err := q.Submit(func(context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, <-failing.Result, boom)

	// A failing task must not wedge the worker.
	next, err := q.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, <-next.Result)
}

func TestSerialQueueRecoversFromPanic(t *testing.T) {
	q := newStartedQueue(t)

	panicking, err := q.Submit(func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	resultErr := <-panicking.Result
	require.Error(t, resultErr)
	assert.Contains(t, resultErr.Error(), "panicked")

	next, err := q.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, <-next.Result)
}

func TestSerialQueueSubmitBeforeStart(t *testing.T) {
	q := NewSerialQueue("idle", SerialQueueConfig{})
	_, err := q.Submit(func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestSerialQueueStopRejectsPending(t *testing.T) {
	q := NewSerialQueue("stopping", SerialQueueConfig{BufferSize: 8})
	q.Start(context.Background())

	block := make(chan struct{})
	running, err := q.Submit(func(context.Context) error {
		close(block)
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	<-block

	pending, err := q.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)

	q.Stop()

	// The in-flight task finishes; the queued one is rejected on drain.
	<-running.Result
	err = <-pending.Result
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
