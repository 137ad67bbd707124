package account

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/persist"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownAccount is returned for operations naming an account the cache
// does not hold.
var ErrUnknownAccount = errors.New("unknown account")

// Dependent is state derived from an account. It is loaded when the account
// first appears and purged when the account is removed.
type Dependent interface {
	LoadAccount(ctx context.Context, accountID string) error
	PurgeAccount(ctx context.Context, accountID string) error
}

type snapshot struct {
	order []string
	byID  map[string]Account
}

func (s *snapshot) list() []Account {
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Options configures a Cache.
type Options struct {
	NameServer string
}

// Cache is the authoritative account list. Readers see an immutable
// snapshot; writers are serialized and swap the snapshot atomically.
type Cache struct {
	bridge  *bridge.Bridge
	db      *store.DB
	queue   *persist.Queue
	bus     *bus.Bus
	metrics *Metrics
	logger  *zap.Logger
	opts    Options

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	subMu    sync.Mutex
	subjects map[string]*bus.Subject[Account]
	list     *bus.Subject[[]Account]
	current  *bus.Subject[string]

	depMu      sync.RWMutex
	dependents []Dependent
	loaded     map[string]bool
	loads      singleflight.Group

	revocations   *bridge.Waiters[deviceKey, int]
	registrations *bridge.Waiters[nameKey, int]
	migrations    *bridge.Waiters[string, string]

	wg sync.WaitGroup
}

type deviceKey struct{ accountID, deviceID string }
type nameKey struct{ accountID, name string }

// New creates an empty cache. db and q may be nil when nothing is
// persisted.
func New(b *bridge.Bridge, db *store.DB, q *persist.Queue, eb *bus.Bus, m *Metrics, opts Options, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		bridge:        b,
		db:            db,
		queue:         q,
		bus:           eb,
		metrics:       m,
		logger:        logger,
		opts:          opts,
		subjects:      make(map[string]*bus.Subject[Account]),
		loaded:        make(map[string]bool),
		list:          bus.NewSubjectWith([]Account{}),
		current:       bus.NewSubjectWith(""),
		revocations:   bridge.NewWaiters[deviceKey, int](),
		registrations: bridge.NewWaiters[nameKey, int](),
		migrations:    bridge.NewWaiters[string, string](),
	}
	c.snap.Store(&snapshot{byID: map[string]Account{}})
	return c
}

// AddDependent registers state to load and purge alongside accounts.
func (c *Cache) AddDependent(d Dependent) {
	c.depMu.Lock()
	c.dependents = append(c.dependents, d)
	c.depMu.Unlock()
}

// Get looks an account up in the current snapshot.
func (c *Cache) Get(accountID string) (Account, bool) {
	a, ok := c.snap.Load().byID[accountID]
	return a, ok
}

// Accounts returns the account list in daemon order.
func (c *Cache) Accounts() []Account {
	return c.snap.Load().list()
}

// Current returns the selected account.
func (c *Cache) Current() (Account, bool) {
	id, _ := c.current.Value()
	if id == "" {
		return Account{}, false
	}
	return c.Get(id)
}

// SetCurrent selects an account. Selecting the current account again does
// not notify.
func (c *Cache) SetCurrent(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.snap.Load().byID[accountID]; !ok {
		return fmt.Errorf("set current %q: %w", accountID, ErrUnknownAccount)
	}
	c.setCurrentLocked(accountID)
	return nil
}

func (c *Cache) setCurrentLocked(accountID string) {
	if cur, _ := c.current.Value(); cur == accountID {
		return
	}
	c.current.Publish(accountID)
	c.metrics.notify("current")
	c.bus.Notify(bus.KindCurrentAccount, accountID)
}

// ObserveAccount streams one account, current value first. The stream ends
// when the account is removed.
func (c *Cache) ObserveAccount(accountID string) (<-chan Account, func()) {
	c.subMu.Lock()
	s := c.subjects[accountID]
	if s == nil {
		if a, ok := c.Get(accountID); ok {
			s = bus.NewSubjectWith(a)
		} else {
			s = bus.NewSubject[Account]()
		}
		c.subjects[accountID] = s
	}
	c.subMu.Unlock()
	return s.Subscribe()
}

// ObserveAccounts streams the account list, current value first.
func (c *Cache) ObserveAccounts() (<-chan []Account, func()) {
	return c.list.Subscribe()
}

// ObserveCurrent streams the selected account id, current value first.
func (c *Cache) ObserveCurrent() (<-chan string, func()) {
	return c.current.Subscribe()
}

func (c *Cache) publishAccount(a Account) {
	c.subMu.Lock()
	s := c.subjects[a.ID]
	if s == nil {
		s = bus.NewSubject[Account]()
		c.subjects[a.ID] = s
	}
	c.subMu.Unlock()
	s.Publish(a)
	c.metrics.notify("account")
}

func (c *Cache) closeAccount(accountID string) {
	c.subMu.Lock()
	s := c.subjects[accountID]
	delete(c.subjects, accountID)
	c.subMu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (c *Cache) publishList(s *snapshot) {
	c.list.Publish(s.list())
	c.metrics.notify("list")
	c.bus.Notify(bus.KindAccounts, slices.Clone(s.order))
}

// install replaces the whole list. The new snapshot is built aside and
// swapped in before anything is published.
func (c *Cache) install(accounts []Account) (added, removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installLocked(accounts)
}

func (c *Cache) installLocked(accounts []Account) (added, removed []string) {
	prev := c.snap.Load()
	next := &snapshot{byID: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if _, dup := next.byID[a.ID]; dup {
			continue
		}
		next.order = append(next.order, a.ID)
		next.byID[a.ID] = a
	}
	c.snap.Store(next)

	changed := !slices.Equal(prev.order, next.order)
	for _, id := range next.order {
		a := next.byID[id]
		old, ok := prev.byID[id]
		switch {
		case !ok:
			added = append(added, id)
			c.publishAccount(a)
		case !old.Equal(a):
			changed = true
			c.logTransition(old, a)
			c.publishAccount(a)
		}
	}
	for _, id := range prev.order {
		if _, ok := next.byID[id]; !ok {
			removed = append(removed, id)
			c.closeAccount(id)
		}
	}
	if changed {
		c.publishList(next)
	}
	cur, _ := c.current.Value()
	if _, ok := next.byID[cur]; !ok {
		first := ""
		if len(next.order) > 0 {
			first = next.order[0]
		}
		c.setCurrentLocked(first)
	}
	return added, removed
}

// upsert adds or replaces one account.
func (c *Cache) upsert(a Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.snap.Load()
	if _, exists := prev.byID[a.ID]; exists {
		c.commitLocked(a.ID, func(cur *Account) { *cur = a.clone() })
		return
	}
	c.installLocked(append(prev.list(), a))
}

// commit applies fn to a copy of an account and publishes the result unless
// nothing observable changed.
func (c *Cache) commit(accountID string, fn func(*Account)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(accountID, fn)
}

func (c *Cache) commitLocked(accountID string, fn func(*Account)) bool {
	prev := c.snap.Load()
	old, ok := prev.byID[accountID]
	if !ok {
		return false
	}
	next := old.clone()
	fn(&next)
	if next.Equal(old) {
		return false
	}
	byID := maps.Clone(prev.byID)
	byID[accountID] = next
	s := &snapshot{order: prev.order, byID: byID}
	c.snap.Store(s)

	c.logTransition(old, next)
	c.publishAccount(next)
	c.publishList(s)
	return true
}

func (c *Cache) logTransition(from, to Account) {
	if from.State == to.State {
		return
	}
	log := c.logger.With(zap.String("account_id", to.ID),
		zap.String("from", string(from.State)), zap.String("to", to.RawState))
	if expectedTransition(from.State, to.State) {
		log.Debug("registration state changed")
		return
	}
	log.Warn("unexpected registration transition")
}

func (c *Cache) deps() []Dependent {
	c.depMu.RLock()
	defer c.depMu.RUnlock()
	return slices.Clone(c.dependents)
}

// loadDependents loads an account's dependent state unless it already is.
// Concurrent loads of one account share a single run.
func (c *Cache) loadDependents(ctx context.Context, accountID string) error {
	_, err, _ := c.loads.Do(accountID, func() (any, error) {
		c.depMu.RLock()
		done := c.loaded[accountID]
		c.depMu.RUnlock()
		if done {
			return nil, nil
		}
		var errs []error
		for _, d := range c.deps() {
			if err := d.LoadAccount(ctx, accountID); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		c.depMu.Lock()
		c.loaded[accountID] = true
		c.depMu.Unlock()
		return nil, nil
	})
	return err
}

func (c *Cache) purgeDependents(ctx context.Context, accountID string) error {
	c.depMu.Lock()
	delete(c.loaded, accountID)
	c.depMu.Unlock()
	var errs []error
	for _, d := range c.deps() {
		if err := d.PurgeAccount(ctx, accountID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// background runs dependent loads and purges triggered by daemon events,
// off the executor.
func (c *Cache) background(added, removed []string) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := context.Background()
		for _, id := range removed {
			if err := c.purgeDependents(ctx, id); err != nil {
				c.logger.Warn("purge account state", zap.String("account_id", id), zap.Error(err))
			}
		}
		for _, id := range added {
			if err := c.loadDependents(ctx, id); err != nil {
				c.logger.Warn("load account state", zap.String("account_id", id), zap.Error(err))
			}
		}
	}()
}

// Wait blocks until background loads started so far have finished.
func (c *Cache) Wait() { c.wg.Wait() }

func fetchAccounts(n bridge.Native) ([]Account, error) {
	ids := n.GetAccountList()
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		info := bridge.DecodeAccount(id,
			n.GetAccountDetails(id), n.GetVolatileAccountDetails(id), n.GetKnownRingDevices(id))
		out = append(out, fromInfo(info))
	}
	return out, nil
}

// Refresh reloads the account list from the daemon, replaces the cache in
// one swap, loads state for new accounts and then enables or disables every
// account according to connected.
func (c *Cache) Refresh(ctx context.Context, connected bool) error {
	accounts, err := bridge.Call(ctx, c.bridge, "getAccountList", fetchAccounts)
	if err != nil {
		return fmt.Errorf("refresh accounts: %w", err)
	}
	added, removed := c.install(accounts)
	c.logger.Info("accounts refreshed",
		zap.Int("count", len(accounts)), zap.Int("added", len(added)), zap.Int("removed", len(removed)))

	var errs []error
	for _, id := range removed {
		if err := c.purgeDependents(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range added {
		if err := c.loadDependents(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
		}
	}
	if err := c.SetAccountsActive(ctx, connected); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HandleEvent applies account events. It runs on the bridge executor.
func (c *Cache) HandleEvent(ev bridge.Event) {
	switch e := ev.(type) {
	case bridge.AccountsChanged:
		accounts := make([]Account, 0, len(e.Accounts))
		for _, info := range e.Accounts {
			accounts = append(accounts, fromInfo(info))
		}
		c.background(c.install(accounts))
	case bridge.RegistrationStateChanged:
		c.commit(e.AccountID, func(a *Account) { a.setState(e.State) })
	case bridge.VolatileDetailsChanged:
		if e.RegistrationState != "" {
			c.commit(e.AccountID, func(a *Account) { a.setState(e.RegistrationState) })
		}
	case bridge.AccountDetailsChanged:
		next := fromInfo(e.Info)
		c.commit(e.AccountID, func(a *Account) { *a = next })
	case bridge.KnownDevicesChanged:
		c.commit(e.AccountID, func(a *Account) { a.Devices = maps.Clone(e.Devices) })
	case bridge.NameRegistrationEnded:
		if e.State == 0 {
			c.commit(e.AccountID, func(a *Account) { a.RegisteredName = e.Name })
		}
		c.registrations.Resolve(nameKey{e.AccountID, e.Name}, e.State)
	case bridge.DeviceRevocationEnded:
		c.revocations.Resolve(deviceKey{e.AccountID, e.DeviceID}, e.State)
	case bridge.MigrationEnded:
		c.migrations.Resolve(e.AccountID, e.State)
	}
}
