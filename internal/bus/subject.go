package bus

import "sync"

// Subject is a multicast value stream with replay-latest semantics: a new
// subscriber first receives the current value (if any), then live updates.
//
// Each subscriber owns a single-slot channel. When a subscriber has not yet
// consumed the previous value, Publish replaces it, so a slow reader always
// observes the latest state and the publisher never blocks.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	has    bool
	closed bool
	subs   map[int]chan T
	next   int
	onIdle func()
}

// NewSubject creates an empty subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]chan T)}
}

// NewSubjectWith creates a subject holding an initial value.
func NewSubjectWith[T any](v T) *Subject[T] {
	s := NewSubject[T]()
	s.value = v
	s.has = true
	return s
}

// OnIdle registers fn to run every time the last subscriber cancels.
func (s *Subject[T]) OnIdle(fn func()) {
	s.mu.Lock()
	s.onIdle = fn
	s.mu.Unlock()
}

// Publish stores v as the current value and delivers it to every subscriber.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value = v
	s.has = true
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// Only Publish writes under s.mu, so after draining the slot is free.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Value returns the current value.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Subscribe attaches a new subscriber. The returned cancel function detaches
// it and closes the channel; it is safe to call more than once.
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if s.has {
		ch <- s.value
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[id]; !ok {
				s.mu.Unlock()
				return
			}
			delete(s.subs, id)
			close(ch)
			idle := len(s.subs) == 0
			fn := s.onIdle
			s.mu.Unlock()
			if idle && fn != nil {
				fn()
			}
		})
	}
}

// Subscribers reports the number of live subscribers.
func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends the stream: every subscriber channel is closed and later
// subscriptions receive an already closed channel.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
