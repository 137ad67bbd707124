package bridge

import "sync"

// Waiters correlates asynchronous completions (a callback answering an
// earlier call) with the goroutines waiting for them.
type Waiters[K comparable, V any] struct {
	mu   sync.Mutex
	next uint64
	m    map[K]map[uint64]chan V
}

// NewWaiters creates an empty registry.
func NewWaiters[K comparable, V any]() *Waiters[K, V] {
	return &Waiters[K, V]{m: make(map[K]map[uint64]chan V)}
}

// Register returns a channel receiving the next value resolved for key. The
// cancel function unregisters it; a cancelled waiter receives nothing.
func (w *Waiters[K, V]) Register(key K) (<-chan V, func()) {
	ch := make(chan V, 1)
	w.mu.Lock()
	id := w.next
	w.next++
	if w.m[key] == nil {
		w.m[key] = make(map[uint64]chan V)
	}
	w.m[key][id] = ch
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if set := w.m[key]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(w.m, key)
			}
		}
	}
}

// Resolve delivers v to every waiter registered for key and forgets them.
// It reports how many waiters were woken.
func (w *Waiters[K, V]) Resolve(key K, v V) int {
	w.mu.Lock()
	set := w.m[key]
	delete(w.m, key)
	w.mu.Unlock()
	for _, ch := range set {
		ch <- v
	}
	return len(set)
}

// Pending reports whether anyone waits on key.
func (w *Waiters[K, V]) Pending(key K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.m[key]) > 0
}
