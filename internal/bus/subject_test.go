package bus

import (
	"sync"
	"testing"
	"time"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value")
	}
	var zero T
	return zero
}

func TestSubjectReplaysLatest(t *testing.T) {
	s := NewSubject[int]()
	s.Publish(1)
	s.Publish(2)
	s.Publish(3)

	ch, cancel := s.Subscribe()
	defer cancel()

	if got := recv(t, ch); got != 3 {
		t.Errorf("first value = %d, want 3", got)
	}
	s.Publish(4)
	if got := recv(t, ch); got != 4 {
		t.Errorf("live value = %d, want 4", got)
	}
}

func TestSubjectEmptyHasNoReplay(t *testing.T) {
	s := NewSubject[string]()
	ch, cancel := s.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		t.Errorf("unexpected replay %q", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSubjectMulticast(t *testing.T) {
	s := NewSubject[int]()
	var chans []<-chan int
	for range 5 {
		ch, cancel := s.Subscribe()
		defer cancel()
		chans = append(chans, ch)
	}
	s.Publish(7)
	for i, ch := range chans {
		if got := recv(t, ch); got != 7 {
			t.Errorf("subscriber %d got %d, want 7", i, got)
		}
	}
}

func TestSubjectSlowReaderSeesLatest(t *testing.T) {
	s := NewSubject[int]()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := range 100 {
		s.Publish(i)
	}
	if got := recv(t, ch); got != 99 {
		t.Errorf("got %d, want 99", got)
	}
}

func TestSubjectCancelStopsDelivery(t *testing.T) {
	s := NewSubjectWith(1)
	ch, cancel := s.Subscribe()
	recv(t, ch)
	cancel()
	cancel()

	s.Publish(2)
	if _, ok := <-ch; ok {
		t.Error("received value after cancel")
	}
	if s.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", s.Subscribers())
	}
}

func TestSubjectOnIdleRunsWhenLastSubscriberLeaves(t *testing.T) {
	s := NewSubject[int]()
	var mu sync.Mutex
	idle := 0
	s.OnIdle(func() {
		mu.Lock()
		idle++
		mu.Unlock()
	})

	_, c1 := s.Subscribe()
	_, c2 := s.Subscribe()
	c1()
	mu.Lock()
	if idle != 0 {
		t.Errorf("idle fired with a subscriber still attached")
	}
	mu.Unlock()
	c2()
	c2()
	mu.Lock()
	defer mu.Unlock()
	if idle != 1 {
		t.Errorf("idle calls = %d, want 1", idle)
	}
}

func TestSubjectClose(t *testing.T) {
	s := NewSubjectWith("a")
	ch, cancel := s.Subscribe()
	defer cancel()
	recv(t, ch)

	s.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	late, lateCancel := s.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("late subscription on closed subject should be closed")
	}
	s.Publish("b")
}
