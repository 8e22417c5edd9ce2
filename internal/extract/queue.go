package extract

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Queue runs submitted jobs one at a time in submission order.
//
// A job that is queued but not started cannot be cancelled. Its context is
// only looked at once the job runs.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []*task
	running bool
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	err  error
	done chan struct{}
}

// NewQueue creates a queue and starts its consumer.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.consume()
	return q
}

// Submit enqueues fn and blocks until it has run, returning its error. A
// panic in fn is returned as an error and does not affect later jobs.
func (q *Queue) Submit(ctx context.Context, fn func(context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, t)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	<-t.done
	return t.err
}

// Len returns the number of jobs waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close rejects new and pending jobs with ErrQueueClosed and waits for the
// running job, if any, to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	close(q.notify)
	q.mu.Unlock()

	for _, t := range pending {
		t.err = ErrQueueClosed
		close(t.done)
	}
	<-q.done
}

func (q *Queue) consume() {
	defer close(q.done)
	for {
		t, ok := q.next()
		if !ok {
			if _, open := <-q.notify; !open {
				return
			}
			continue
		}
		t.err = q.run(t)

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		close(t.done)
	}
}

func (q *Queue) next() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.running = true
	return t, true
}

func (q *Queue) run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("extraction job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("extraction job panicked: %v", r)
		}
	}()
	return t.fn(t.ctx)
}
