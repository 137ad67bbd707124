package account

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge/loopback"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/persist"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
)

type recordingDependent struct {
	mu     sync.Mutex
	loads  map[string]int
	purges map[string]int
}

func newRecordingDependent() *recordingDependent {
	return &recordingDependent{loads: map[string]int{}, purges: map[string]int{}}
}

func (r *recordingDependent) LoadAccount(_ context.Context, id string) error {
	r.mu.Lock()
	r.loads[id]++
	r.mu.Unlock()
	return nil
}

func (r *recordingDependent) PurgeAccount(_ context.Context, id string) error {
	r.mu.Lock()
	r.purges[id]++
	r.mu.Unlock()
	return nil
}

func (r *recordingDependent) counts(id string) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads[id], r.purges[id]
}

type fixture struct {
	daemon  *loopback.Daemon
	bridge  *bridge.Bridge
	db      *store.DB
	cache   *Cache
	metrics *Metrics
	dep     *recordingDependent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := loopback.New()
	b := bridge.New(d, nil, nil)
	d.Attach(b)
	b.Start()
	t.Cleanup(b.Stop)

	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q := persist.NewQueue(db, nil, nil)
	q.Start()
	t.Cleanup(q.Stop)

	m := NewMetrics(prometheus.NewRegistry())
	c := New(b, db, q, bus.New(), m, Options{}, nil)
	dep := newRecordingDependent()
	c.AddDependent(dep)
	b.AddEventHandler(c.HandleEvent)
	return &fixture{daemon: d, bridge: b, db: db, cache: c, metrics: m, dep: dep}
}

func (f *fixture) add(t *testing.T, alias, password string) Account {
	t.Helper()
	details := map[string]string{bridge.KeyAlias: alias}
	if password != "" {
		details["Account.archivePassword"] = password
	}
	a, err := f.cache.AddAccount(context.Background(), details)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func (f *fixture) notifications(t *testing.T, stream string) float64 {
	t.Helper()
	var metric dto.Metric
	if err := f.metrics.Notifications.WithLabelValues(stream).Write(&metric); err != nil {
		t.Fatal(err)
	}
	return metric.GetCounter().GetValue()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		var zero T
		t.Fatal("timeout waiting for value")
		return zero
	}
}

func TestRefreshLoadsAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id1, _ := f.daemon.AddAccount(map[string]string{bridge.KeyAlias: "one"})
	id2, _ := f.daemon.AddAccount(map[string]string{bridge.KeyAlias: "two"})

	if err := f.cache.Refresh(ctx, true); err != nil {
		t.Fatal(err)
	}
	f.cache.Wait()
	list := f.cache.Accounts()
	if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
		t.Fatalf("accounts = %+v", list)
	}
	for _, id := range []string{id1, id2} {
		if loads, _ := f.dep.counts(id); loads != 1 {
			t.Errorf("loads for %s = %d, want 1", id, loads)
		}
	}
	if cur, ok := f.cache.Current(); !ok || cur.ID != id1 {
		t.Errorf("current = %+v, want first account", cur)
	}
	eventually(t, "registered after connect", func() bool {
		a, _ := f.cache.Get(id2)
		return a.State == StateRegistered
	})
}

func TestGetMissingAccount(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.cache.Get("nope"); ok {
		t.Error("Get on unknown account reported ok")
	}
	if err := f.cache.SetCurrent("nope"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("SetCurrent error = %v", err)
	}
}

func TestDuplicateRegistrationEventNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "alice", "")
	f.cache.Wait()

	ch, cancel := f.cache.ObserveAccount(a.ID)
	defer cancel()
	recv(t, ch)

	// Let in-flight daemon callbacks for the new account settle first.
	time.Sleep(50 * time.Millisecond)
	for len(ch) > 0 {
		<-ch
	}
	before := f.notifications(t, "account")

	ev := bridge.RegistrationStateChanged{AccountID: a.ID, State: "TRYING"}
	f.cache.HandleEvent(ev)
	first, _ := f.cache.Get(a.ID)
	f.cache.HandleEvent(ev)
	second, _ := f.cache.Get(a.ID)

	if !first.Equal(second) {
		t.Errorf("state differs after duplicate event: %+v vs %+v", first, second)
	}
	if got := recv(t, ch); got.State != StateTrying {
		t.Errorf("notified state = %s", got.State)
	}
	select {
	case v := <-ch:
		t.Errorf("duplicate notification: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
	if got := f.notifications(t, "account") - before; got != 1 {
		t.Errorf("account notifications = %v, want 1", got)
	}
}

func TestObserveAccountReplaysLatest(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "bob", "")
	f.cache.Wait()

	f.cache.HandleEvent(bridge.RegistrationStateChanged{AccountID: a.ID, State: "TRYING"})
	f.cache.HandleEvent(bridge.RegistrationStateChanged{AccountID: a.ID, State: "REGISTERED"})
	f.cache.HandleEvent(bridge.KnownDevicesChanged{AccountID: a.ID, Devices: map[string]string{"d1": "phone", "d2": "laptop"}})
	want, _ := f.cache.Get(a.ID)

	ch, cancel := f.cache.ObserveAccount(a.ID)
	defer cancel()
	got := recv(t, ch)
	if !got.Equal(want) || len(got.Devices) != 2 {
		t.Errorf("first value = %+v, want latest %+v", got, want)
	}
}

func TestObserveAccountIgnoresOtherAccounts(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "one", "")
	b := f.add(t, "two", "")
	f.cache.Wait()

	ch, cancel := f.cache.ObserveAccount(a.ID)
	defer cancel()
	recv(t, ch)
	f.cache.HandleEvent(bridge.RegistrationStateChanged{AccountID: b.ID, State: "ERROR_NETWORK"})
	f.cache.HandleEvent(bridge.RegistrationStateChanged{AccountID: a.ID, State: "ERROR_GENERIC"})
	for {
		v := recv(t, ch)
		if v.ID != a.ID {
			t.Fatalf("received %s on stream of %s", v.ID, a.ID)
		}
		if v.State == StateErrorGeneric {
			return
		}
	}
}

func TestUnknownRegistrationStateKeptVerbatim(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "carol", "")
	f.cache.HandleEvent(bridge.RegistrationStateChanged{AccountID: a.ID, State: "ERROR_SERVICE_UNAVAILABLE"})

	got, _ := f.cache.Get(a.ID)
	if got.State != StateUnknown || got.RawState != "ERROR_SERVICE_UNAVAILABLE" {
		t.Errorf("state = %s raw = %q", got.State, got.RawState)
	}
}

func TestRegistrationTransitions(t *testing.T) {
	cases := []struct {
		from, to RegistrationState
		want     bool
	}{
		{StateInitializing, StateTrying, true},
		{StateTrying, StateRegistered, true},
		{StateRegistered, StateTrying, true},
		{StateRegistered, StateUnregistered, true},
		{StateUnregistered, StateErrorAuth, false},
		{StateErrorAuth, StateRegistered, false},
		{StateRegistered, StateRegistered, true},
		{StateUnknown, StateRegistered, true},
	}
	for _, c := range cases {
		if got := expectedTransition(c.from, c.to); got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestAddAccountLoadsDependentsOnce(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "dave", "")
	eventually(t, "accounts changed applied", func() bool {
		return f.daemon.Calls("GetAccountList") > 0
	})
	time.Sleep(20 * time.Millisecond)
	f.cache.Wait()
	if loads, _ := f.dep.counts(a.ID); loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}
}

type slowDependent struct {
	mu   sync.Mutex
	done map[string]bool
}

func (s *slowDependent) LoadAccount(_ context.Context, id string) error {
	time.Sleep(30 * time.Millisecond)
	s.mu.Lock()
	s.done[id] = true
	s.mu.Unlock()
	return nil
}

func (s *slowDependent) PurgeAccount(context.Context, string) error { return nil }

func (s *slowDependent) loaded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[id]
}

func TestAddAccountReturnsAfterDependentsLoad(t *testing.T) {
	f := newFixture(t)
	slow := &slowDependent{done: map[string]bool{}}
	f.cache.AddDependent(slow)

	for _, alias := range []string{"gina", "hank", "ivy"} {
		a := f.add(t, alias, "")
		if !slow.loaded(a.ID) {
			t.Fatalf("%s returned before its state loaded", alias)
		}
	}
	f.cache.Wait()
	for _, a := range f.cache.Accounts() {
		if loads, _ := f.dep.counts(a.ID); loads != 1 {
			t.Errorf("%s loads = %d, want 1", a.ID, loads)
		}
	}
}

func TestAccountInstalledByEventStillLoads(t *testing.T) {
	f := newFixture(t)
	f.cache.install([]Account{{ID: "acc1"}})
	if loads, _ := f.dep.counts("acc1"); loads != 0 {
		t.Fatalf("install alone loaded state %d times", loads)
	}
	ctx := context.Background()
	for range 2 {
		if err := f.cache.loadDependents(ctx, "acc1"); err != nil {
			t.Fatal(err)
		}
	}
	if loads, _ := f.dep.counts("acc1"); loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}
	if err := f.cache.purgeDependents(ctx, "acc1"); err != nil {
		t.Fatal(err)
	}
	if err := f.cache.loadDependents(ctx, "acc1"); err != nil {
		t.Fatal(err)
	}
	if loads, _ := f.dep.counts("acc1"); loads != 2 {
		t.Fatalf("loads after purge = %d, want 2", loads)
	}
}

func TestRemoveAccountCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "erin", "")
	keep := f.add(t, "frank", "")
	f.cache.Wait()

	conv := &store.Conversation{AccountID: a.ID, ConversationID: "c1", Mode: "0", Members: []string{"peer"}}
	if err := f.db.InsertInteraction(conv, &store.Interaction{
		AccountID: a.ID, ConversationID: "c1", InteractionID: "m1", Kind: store.KindText, Body: "hi", Timestamp: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpsertContact(&store.Contact{AccountID: a.ID, URI: "peer"}); err != nil {
		t.Fatal(err)
	}
	ch, cancel := f.cache.ObserveAccount(a.ID)
	defer cancel()
	recv(t, ch)

	if err := f.cache.RemoveAccount(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.cache.Get(a.ID); ok {
		t.Error("removed account still cached")
	}
	if _, ok := f.cache.Get(keep.ID); !ok {
		t.Error("other account lost")
	}
	if _, purges := f.dep.counts(a.ID); purges < 1 {
		t.Error("dependent not purged")
	}
	stats, err := f.db.Stats(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (store.Stats{}) {
		t.Errorf("stored rows left after removal: %+v", stats)
	}
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("account stream not closed")
		}
	}
}

func TestRevokeDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "gina", "secret")
	f.daemon.AddDevice(a.ID, "tablet", "Tablet")
	eventually(t, "device listed", func() bool {
		got, _ := f.cache.Get(a.ID)
		return got.Devices["tablet"] == "Tablet"
	})

	code, err := f.cache.RevokeDevice(ctx, a.ID, "wrong", "tablet")
	if err != nil || code != RevokeWrongPassword {
		t.Fatalf("revoke with wrong password = %d, %v", code, err)
	}
	code, err = f.cache.RevokeDevice(ctx, a.ID, "secret", "tablet")
	if err != nil || code != RevokeSuccess {
		t.Fatalf("revoke = %d, %v", code, err)
	}
	eventually(t, "device removed", func() bool {
		got, _ := f.cache.Get(a.ID)
		_, ok := got.Devices["tablet"]
		return !ok
	})
}

func TestRegisterNameAndShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "henry", "pw")

	uri, err := f.cache.ShareURI(a.ID)
	if err != nil || uri != a.URI() {
		t.Fatalf("ShareURI before registration = %q, %v", uri, err)
	}
	code, err := f.cache.RegisterName(ctx, a.ID, "henry", "pw")
	if err != nil || code != RegisterSuccess {
		t.Fatalf("register = %d, %v", code, err)
	}
	eventually(t, "registered name", func() bool {
		got, _ := f.cache.Get(a.ID)
		return got.RegisteredName == "henry"
	})
	if uri, _ := f.cache.ShareURI(a.ID); uri != "henry" {
		t.Errorf("ShareURI = %q", uri)
	}
	png, err := f.cache.ShareQR(a.ID, 128)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("ShareQR did not return a PNG")
	}
	text, err := RenderQR(a.URI())
	if err != nil || text == "" {
		t.Errorf("RenderQR = %q, %v", text, err)
	}
}

func TestMigrateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "ivy", "pw")

	ok, err := f.cache.MigrateAccount(ctx, a.ID, "bad")
	if err != nil || ok {
		t.Errorf("migrate with bad password = %v, %v", ok, err)
	}
	ok, err = f.cache.MigrateAccount(ctx, a.ID, "pw")
	if err != nil || !ok {
		t.Errorf("migrate = %v, %v", ok, err)
	}
}

func TestSetCurrentNotifiesOnChange(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "one", "")
	b := f.add(t, "two", "")

	ch, cancel := f.cache.ObserveCurrent()
	defer cancel()
	if got := recv(t, ch); got != a.ID {
		t.Fatalf("current = %q, want %q", got, a.ID)
	}
	if err := f.cache.SetCurrent(a.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.cache.SetCurrent(b.ID); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, ch); got != b.ID {
		t.Errorf("current = %q, want %q", got, b.ID)
	}
}
