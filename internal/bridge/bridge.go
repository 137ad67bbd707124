// Package bridge serializes every interaction with the native daemon on one
// executor goroutine and turns its callbacks into typed events.
package bridge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var errSkipped = errors.New("bridge: task skipped")

type task struct {
	name     string
	ctx      context.Context
	callback bool
	run      func() error
	abort    func(error)
}

// Bridge owns the executor. Native calls and callback decoding both run on
// it, so the daemon never sees concurrent calls and event handlers never run
// concurrently with each other.
//
// Work running on the executor (event handlers included) must not wait on a
// Future: use Post to schedule follow-up work instead.
type Bridge struct {
	native  Native
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	queue   []task
	closed  bool
	started bool
	wake    chan struct{}
	done    chan struct{}

	hmu      sync.RWMutex
	handlers []func(Event)
	watchers map[int]chan Event
	wnext    int
}

// New creates a bridge over native. Call Start before submitting work.
func New(native Native, metrics *Metrics, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		native:   native,
		logger:   logger,
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		watchers: make(map[int]chan Event),
	}
}

// Start launches the executor goroutine.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	go b.loop()
}

// Stop rejects new work, runs what is already queued and waits for the
// executor to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.closed = true
	started := b.started
	b.mu.Unlock()
	b.signal()
	if started {
		<-b.done
	}
	b.hmu.Lock()
	for id, ch := range b.watchers {
		close(ch)
		delete(b.watchers, id)
	}
	b.hmu.Unlock()
}

// AddEventHandler registers h to run on the executor for every decoded event,
// after the handlers registered before it.
func (b *Bridge) AddEventHandler(h func(Event)) {
	b.hmu.Lock()
	b.handlers = append(b.handlers, h)
	b.hmu.Unlock()
}

// Events returns a passive broadcast of decoded events. Delivery skips a
// watcher whose buffer is full. The returned function unsubscribes.
func (b *Bridge) Events(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	b.hmu.Lock()
	id := b.wnext
	b.wnext++
	b.watchers[id] = ch
	b.hmu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.hmu.Lock()
			if _, ok := b.watchers[id]; ok {
				delete(b.watchers, id)
				close(ch)
			}
			b.hmu.Unlock()
		})
	}
}

// Submit queues fn on the executor. If ctx is already done when the task is
// dequeued the call is skipped; a caller that stops waiting lets a running
// call finish silently.
func Submit[T any](ctx context.Context, b *Bridge, name string, fn func(Native) (T, error)) *Future[T] {
	f := newFuture[T]()
	ok := b.enqueue(task{
		name: name,
		ctx:  ctx,
		run: func() error {
			v, err := fn(b.native)
			err = wrapNative(name, err)
			f.complete(v, err)
			return err
		},
		abort: func(err error) {
			var zero T
			f.complete(zero, err)
		},
	})
	if !ok {
		var zero T
		f.complete(zero, ErrClosed)
	}
	return f
}

// Call submits fn and waits for its result.
func Call[T any](ctx context.Context, b *Bridge, name string, fn func(Native) (T, error)) (T, error) {
	return Submit(ctx, b, name, fn).Wait(ctx)
}

// Exec is Call for native calls without a result.
func (b *Bridge) Exec(ctx context.Context, name string, fn func(Native) error) error {
	_, err := Call(ctx, b, name, func(n Native) (struct{}, error) {
		return struct{}{}, fn(n)
	})
	return err
}

// Post queues fire-and-forget work on the executor. It reports false once
// the bridge is stopped.
func (b *Bridge) Post(name string, fn func(Native)) bool {
	return b.enqueue(task{
		name: name,
		run: func() error {
			fn(b.native)
			return nil
		},
	})
}

// emit queues a callback decode; decode runs on the executor and may call
// the native side to complete the event.
func (b *Bridge) emit(name string, decode func(Native) Event) {
	ok := b.enqueue(task{
		name:     name,
		callback: true,
		run: func() error {
			ev := decode(b.native)
			if ev != nil {
				b.dispatch(ev)
			}
			return nil
		},
	})
	if !ok {
		b.logger.Debug("callback after stop dropped", zap.String("kind", name))
	}
}

func (b *Bridge) dispatch(ev Event) {
	b.metrics.event(ev.Kind())
	b.hmu.RLock()
	handlers := b.handlers
	b.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}

	b.hmu.RLock()
	defer b.hmu.RUnlock()
	for _, ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bridge) enqueue(t task) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, t)
	b.metrics.depth(len(b.queue))
	b.mu.Unlock()
	b.signal()
	return true
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) next() (task, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			t := b.queue[0]
			b.queue[0] = task{}
			b.queue = b.queue[1:]
			b.metrics.depth(len(b.queue))
			b.mu.Unlock()
			return t, true
		}
		if b.closed {
			b.mu.Unlock()
			return task{}, false
		}
		b.mu.Unlock()
		<-b.wake
	}
}

func (b *Bridge) loop() {
	defer close(b.done)
	for {
		t, ok := b.next()
		if !ok {
			return
		}
		b.run(t)
	}
}

// run executes one task. Panics from the native side are not recovered.
func (b *Bridge) run(t task) {
	if t.ctx != nil && t.ctx.Err() != nil {
		if t.abort != nil {
			t.abort(t.ctx.Err())
		}
		b.metrics.call(t.name, errSkipped)
		return
	}
	err := t.run()
	if t.callback {
		return
	}
	b.metrics.call(t.name, err)
	if err != nil {
		b.logger.Warn("daemon call failed", zap.String("call", t.name), zap.Error(err))
	}
}
