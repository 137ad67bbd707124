package bridge

import (
	"testing"
	"time"
)

func TestWaitersResolveAll(t *testing.T) {
	w := NewWaiters[string, int]()
	a, _ := w.Register("k")
	b, _ := w.Register("k")

	if n := w.Resolve("k", 7); n != 2 {
		t.Fatalf("Resolve woke %d, want 2", n)
	}
	for _, ch := range []<-chan int{a, b} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Errorf("got %d, want 7", v)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}
	if w.Pending("k") {
		t.Error("waiters still pending after resolve")
	}
}

func TestWaitersCancelledGetsNothing(t *testing.T) {
	w := NewWaiters[uint32, string]()
	ch, cancel := w.Register(1)
	cancel()
	cancel()

	if n := w.Resolve(1, "late"); n != 0 {
		t.Errorf("Resolve woke %d cancelled waiters", n)
	}
	select {
	case v := <-ch:
		t.Errorf("cancelled waiter received %q", v)
	default:
	}
}
