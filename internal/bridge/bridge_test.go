package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge/loopback"
)

func newBridge(t *testing.T) (*bridge.Bridge, *loopback.Daemon, *bridge.Metrics) {
	t.Helper()
	d := loopback.New()
	m := bridge.NewMetrics(prometheus.NewRegistry())
	b := bridge.New(d, m, nil)
	d.Attach(b)
	b.Start()
	t.Cleanup(b.Stop)
	return b, d, m
}

func waitEvent[T bridge.Event](t *testing.T, ch <-chan bridge.Event) T {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)
			return zero
		}
	}
}

func TestCallReturnsResult(t *testing.T) {
	b, _, _ := newBridge(t)
	ctx := context.Background()

	id, err := bridge.Call(ctx, b, "addAccount", func(n bridge.Native) (string, error) {
		return n.AddAccount(map[string]string{bridge.KeyAlias: "alice"})
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := bridge.Call(ctx, b, "getAccountList", func(n bridge.Native) ([]string, error) {
		return n.GetAccountList(), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0] != id {
		t.Errorf("account list = %v, want [%s]", list, id)
	}
}

func TestCallErrorCarriesDaemonCode(t *testing.T) {
	b, d, m := newBridge(t)
	d.Fail("RemoveAccount", &loopback.CodedError{Op: "remove", Status: 7})

	err := b.Exec(context.Background(), "removeAccount", func(n bridge.Native) error {
		return n.RemoveAccount("nope")
	})
	var de *bridge.DaemonError
	if !errors.As(err, &de) {
		t.Fatalf("error = %T %v, want *DaemonError", err, err)
	}
	if de.Call != "removeAccount" || de.Code != 7 {
		t.Errorf("DaemonError = %+v", de)
	}
	var metric dto.Metric
	if err := m.Calls.WithLabelValues("removeAccount", "error").Write(&metric); err != nil {
		t.Fatal(err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if d.Calls("RemoveAccount") != 1 {
		t.Errorf("native called %d times, want exactly 1 (no retry)", d.Calls("RemoveAccount"))
	}
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	b, _, _ := newBridge(t)

	release := make(chan struct{})
	b.Post("block", func(bridge.Native) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	f := bridge.Submit(ctx, b, "skipped", func(bridge.Native) (int, error) {
		ran = true
		return 1, nil
	})
	cancel()
	close(release)

	<-f.Done()
	v, err, ok := f.Result()
	if !ok || !errors.Is(err, context.Canceled) || v != 0 {
		t.Errorf("Result = %v, %v, %v; want 0, context.Canceled, true", v, err, ok)
	}
	if ran {
		t.Error("cancelled task ran")
	}
}

func TestWaitingCallerMayGiveUp(t *testing.T) {
	b, _, _ := newBridge(t)

	release := make(chan struct{})
	finished := make(chan struct{})
	f := bridge.Submit(context.Background(), b, "slow", func(bridge.Native) (int, error) {
		<-release
		close(finished)
		return 42, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("running call did not finish after caller gave up")
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	d := loopback.New()
	b := bridge.New(d, nil, nil)
	b.Start()
	b.Stop()

	_, err := bridge.Call(context.Background(), b, "late", func(bridge.Native) (int, error) { return 1, nil })
	if !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if b.Post("late", func(bridge.Native) {}) {
		t.Error("Post after Stop reported success")
	}
}

func TestAccountsChangedCarriesDetails(t *testing.T) {
	b, _, _ := newBridge(t)
	events, stop := b.Events(16)
	defer stop()

	if err := b.Exec(context.Background(), "addAccount", func(n bridge.Native) error {
		_, err := n.AddAccount(map[string]string{bridge.KeyAlias: "bob", bridge.KeyUsername: "boburi"})
		return err
	}); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent[bridge.AccountsChanged](t, events)
	if len(ev.Accounts) != 1 {
		t.Fatalf("accounts = %+v", ev.Accounts)
	}
	acc := ev.Accounts[0]
	if acc.Alias != "bob" || acc.Username != "boburi" || !acc.Enabled || len(acc.Devices) != 1 {
		t.Errorf("decoded account = %+v", acc)
	}
}

func TestHandlersRunSeriallyInOrder(t *testing.T) {
	b, d, _ := newBridge(t)
	ctx := context.Background()

	acc, err := bridge.Call(ctx, b, "addAccount", func(n bridge.Native) (string, error) {
		return n.AddAccount(nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := bridge.Call(ctx, b, "startConversation", func(n bridge.Native) (string, error) {
		return n.StartConversation(acc)
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		bodies  []string
		active  atomic.Int32
		overlap atomic.Bool
	)
	done := make(chan struct{})
	b.AddEventHandler(func(ev bridge.Event) {
		msg, ok := ev.(bridge.IncomingMessage)
		if !ok {
			return
		}
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		defer active.Add(-1)
		mu.Lock()
		bodies = append(bodies, msg.Message.Body)
		n := len(bodies)
		mu.Unlock()
		if n == 20 {
			close(done)
		}
	})

	for i := range 20 {
		d.Deliver(acc, conv, "peer", string(rune('a'+i)))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for messages")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, body := range bodies {
		if body != string(rune('a'+i)) {
			t.Fatalf("message %d = %q, out of order: %v", i, body, bodies)
		}
	}
	if overlap.Load() {
		t.Error("handlers overlapped")
	}
}

func TestConversationReadyIsComplete(t *testing.T) {
	b, _, _ := newBridge(t)
	events, stop := b.Events(16)
	defer stop()
	ctx := context.Background()

	acc, _ := bridge.Call(ctx, b, "addAccount", func(n bridge.Native) (string, error) {
		return n.AddAccount(map[string]string{bridge.KeyUsername: "me"})
	})
	if err := b.Exec(ctx, "addContact", func(n bridge.Native) error { return n.AddContact(acc, "peer") }); err != nil {
		t.Fatal(err)
	}

	ready := waitEvent[bridge.ConversationReady](t, events)
	if ready.Mode != bridge.ModeOneToOne {
		t.Errorf("mode = %v, want one_to_one", ready.Mode)
	}
	if len(ready.Members) != 2 {
		t.Errorf("members = %+v", ready.Members)
	}
}
