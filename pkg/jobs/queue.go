package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work executed on the queue's single worker.
type Task func(context.Context) error

// Ticket is handed back at submission time. Result resolves exactly once with
// the task outcome; Index is the 1-based submission sequence number used for
// queue-position reporting.
type Ticket struct {
	Index    int64
	Enqueued time.Time
	Result   <-chan error
}

// SerialQueueConfig configures queue behaviour.
type SerialQueueConfig struct {
	BufferSize int
	Logger     *zap.Logger
}

// SerialQueue executes submitted tasks strictly one at a time in submission
// order. Concurrency is fixed at 1: correctness of the admission pipeline
// depends on exactly one task running its read-check-write sequence against a
// shared counter at a time. A failing task rejects its own ticket and the
// queue moves on to the next.
type SerialQueue struct {
	name       string
	bufferSize int
	logger     *zap.Logger

	requested int64
	activated int64
	completed int64

	tasks   chan queued
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	started bool
}

type queued struct {
	index  int64
	task   Task
	result chan error
}

// NewSerialQueue builds a queue. Tasks are not consumed until Start is called.
func NewSerialQueue(name string, cfg SerialQueueConfig) *SerialQueue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SerialQueue{
		name:       name,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
		tasks:      make(chan queued, cfg.BufferSize),
		done:       make(chan struct{}),
	}
}

// Start begins the single worker. Safe to call once.
func (q *SerialQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	go q.worker()
	q.started = true
	q.logger.Sugar().Infow("serial queue started", "queue", q.name, "buffer", q.bufferSize)
}

// Stop cancels the worker and waits for it to exit. Pending tickets are
// rejected with the cancellation error.
func (q *SerialQueue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	<-q.done
	q.logger.Sugar().Infow("serial queue stopped", "queue", q.name)
}

// Submit enqueues a task and returns its ticket. The requested counter is
// incremented synchronously so the caller can report its queue position
// before the task runs.
func (q *SerialQueue) Submit(task Task) (*Ticket, error) {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("queue %s not started", q.name)
	}

	index := atomic.AddInt64(&q.requested, 1)
	entry := queued{index: index, task: task, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.tasks <- entry:
		return &Ticket{Index: index, Enqueued: time.Now().UTC(), Result: entry.result}, nil
	}
}

// Requested returns the total number of submissions accepted.
func (q *SerialQueue) Requested() int64 { return atomic.LoadInt64(&q.requested) }

// Activated returns the number of tasks that have begun executing.
func (q *SerialQueue) Activated() int64 { return atomic.LoadInt64(&q.activated) }

// Completed returns the number of tasks that have finished, success or not.
func (q *SerialQueue) Completed() int64 { return atomic.LoadInt64(&q.completed) }

// Position reports how many submissions sit at or ahead of the given ticket
// index, the caller's waiting order.
func (q *SerialQueue) Position(index int64) int64 {
	pos := index - atomic.LoadInt64(&q.completed)
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Depth reports the number of submissions not yet completed.
func (q *SerialQueue) Depth() int64 {
	return atomic.LoadInt64(&q.requested) - atomic.LoadInt64(&q.completed)
}

func (q *SerialQueue) worker() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case entry := <-q.tasks:
			if q.ctx.Err() != nil {
				atomic.AddInt64(&q.completed, 1)
				entry.result <- fmt.Errorf("queue %s stopped: %w", q.name, q.ctx.Err())
				continue
			}
			atomic.AddInt64(&q.activated, 1)
			err := q.run(entry)
			atomic.AddInt64(&q.completed, 1)
			entry.result <- err
		}
	}
}

func (q *SerialQueue) run(entry queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s task %d panicked: %v", q.name, entry.index, r)
			q.logger.Sugar().Errorw("queued task panicked", "queue", q.name, "index", entry.index, "panic", r)
		}
	}()
	return entry.task(q.ctx)
}

func (q *SerialQueue) drain() {
	for {
		select {
		case entry := <-q.tasks:
			atomic.AddInt64(&q.completed, 1)
			entry.result <- fmt.Errorf("queue %s stopped: %w", q.name, q.ctx.Err())
		default:
			return
		}
	}
}
