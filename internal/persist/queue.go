// Package persist hands store writes off the daemon callback goroutine.
package persist

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
)

// WriteFailure is the payload of store.write_failed events.
type WriteFailure struct {
	Op    string
	Error string
}

type job struct {
	op    string
	apply func(*store.DB) error
	done  chan struct{}
}

// Queue applies store writes in FIFO order on a single goroutine. Enqueue
// never blocks; a failed write is logged and published on the bus but the
// in-memory state that produced it stays as is.
type Queue struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	pending []job
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	applied atomic.Uint64
	failed  atomic.Uint64
}

// NewQueue creates a queue writing to db.
func NewQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		db:     db,
		bus:    b,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start begins draining the queue.
func (q *Queue) Start() {
	go q.loop()
}

// Stop applies everything already queued, then stops the worker.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.stopped = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

// Enqueue schedules apply. Writes enqueued after Stop are dropped.
func (q *Queue) Enqueue(op string, apply func(*store.DB) error) {
	q.push(job{op: op, apply: apply})
}

// Flush blocks until every write enqueued before the call has been applied.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !q.push(job{op: "flush", done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports applied and failed write counts.
func (q *Queue) Stats() (applied, failed uint64) {
	return q.applied.Load(), q.failed.Load()
}

func (q *Queue) push(j job) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("store write after stop dropped", zap.String("op", j.op))
		return false
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	for range q.wake {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		stopped := q.stopped
		q.mu.Unlock()

		for _, j := range batch {
			q.run(j)
		}
		if stopped {
			q.mu.Lock()
			rest := q.pending
			q.pending = nil
			q.mu.Unlock()
			for _, j := range rest {
				q.run(j)
			}
			return
		}
	}
}

func (q *Queue) run(j job) {
	if j.done != nil {
		close(j.done)
		return
	}
	if err := j.apply(q.db); err != nil {
		q.failed.Add(1)
		q.logger.Error("store write failed", zap.String("op", j.op), zap.Error(err))
		q.bus.Notify(bus.KindStoreFailed, WriteFailure{Op: j.op, Error: err.Error()})
		return
	}
	q.applied.Add(1)
}
