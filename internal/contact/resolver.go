package contact

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/persist"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SystemContacts looks a URI up in the platform address book.
type SystemContacts interface {
	LookupName(ctx context.Context, accountID, uri string) (string, bool, error)
}

// NameResult is the answer to a name or address lookup.
type NameResult struct {
	Found   bool
	Name    string
	Address string
}

type lookupKey struct {
	accountID string
	query     string
}

// Options configures a Resolver.
type Options struct {
	System        SystemContacts
	NameServer    string
	LookupTimeout time.Duration
}

// Resolver owns every Contact instance. Other components obtain contacts
// only through it.
type Resolver struct {
	bridge *bridge.Bridge
	db     *store.DB
	queue  *persist.Queue
	opts   Options
	logger *zap.Logger

	mu       sync.RWMutex
	contacts map[string]map[string]*Contact

	group       singleflight.Group
	lookups     *bridge.Waiters[lookupKey, NameResult]
	enrichments atomic.Int64
	wg          sync.WaitGroup

	wmu      sync.RWMutex
	watchers []func(Snapshot)
}

// NewResolver creates a resolver. db may be nil when nothing is persisted.
func NewResolver(b *bridge.Bridge, db *store.DB, q *persist.Queue, opts Options, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	return &Resolver{
		bridge:   b,
		db:       db,
		queue:    q,
		opts:     opts,
		logger:   logger,
		contacts: make(map[string]map[string]*Contact),
		lookups:  bridge.NewWaiters[lookupKey, NameResult](),
	}
}

// FindContact returns the contact for uri. A cache miss returns a placeholder
// at once and starts a single background enrichment for the pair, however
// many callers ask concurrently.
func (r *Resolver) FindContact(accountID, uri string) *Contact {
	r.mu.RLock()
	c := r.contacts[accountID][uri]
	r.mu.RUnlock()
	if c == nil {
		r.mu.Lock()
		if r.contacts[accountID] == nil {
			r.contacts[accountID] = make(map[string]*Contact)
		}
		if c = r.contacts[accountID][uri]; c == nil {
			c = newContact(accountID, uri, r.changed)
			r.contacts[accountID][uri] = c
		}
		r.mu.Unlock()
	}

	c.mu.Lock()
	enriched := c.enriched
	c.mu.Unlock()
	if !enriched {
		r.scheduleEnrich(c)
	}
	return c
}

// OnChange registers fn to run after every contact state change, from the
// goroutine that made it. fn must not call back into the same contact's
// update path.
func (r *Resolver) OnChange(fn func(Snapshot)) {
	r.wmu.Lock()
	r.watchers = append(r.watchers, fn)
	r.wmu.Unlock()
}

func (r *Resolver) changed(s Snapshot) {
	r.wmu.RLock()
	watchers := r.watchers
	r.wmu.RUnlock()
	for _, fn := range watchers {
		fn(s)
	}
}

// Lookup returns a cached contact without creating one.
func (r *Resolver) Lookup(accountID, uri string) (*Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[accountID][uri]
	return c, ok
}

// ObserveContact streams a contact's state, current value first.
func (r *Resolver) ObserveContact(accountID, uri string) (<-chan Snapshot, func()) {
	return r.FindContact(accountID, uri).Observe()
}

// Contacts returns snapshots of every cached contact of an account.
func (r *Resolver) Contacts(accountID string) []Snapshot {
	r.mu.RLock()
	list := make([]*Contact, 0, len(r.contacts[accountID]))
	for _, c := range r.contacts[accountID] {
		list = append(list, c)
	}
	r.mu.RUnlock()
	out := make([]Snapshot, 0, len(list))
	for _, c := range list {
		out = append(out, c.Snapshot())
	}
	return out
}

// Enrichments reports how many enrichment tasks have run.
func (r *Resolver) Enrichments() int64 { return r.enrichments.Load() }

// Wait blocks until background enrichment started so far has finished.
func (r *Resolver) Wait() { r.wg.Wait() }

func (r *Resolver) scheduleEnrich(c *Contact) {
	snap := c.Snapshot()
	key := snap.AccountID + "/" + snap.URI
	r.wg.Add(1)
	ch := r.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		if c.enriched {
			c.mu.Unlock()
			return nil, nil
		}
		c.enriched = true
		c.mu.Unlock()
		r.enrichments.Add(1)
		r.enrich(c, snap.AccountID, snap.URI)
		return nil, nil
	})
	go func() {
		defer r.wg.Done()
		<-ch
	}()
}

// enrich fills a placeholder from the store, the system address book and the
// daemon. No lock is held across any of those calls.
func (r *Resolver) enrich(c *Contact, accountID, uri string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.LookupTimeout)
	defer cancel()
	log := r.logger.With(zap.String("account_id", accountID), zap.String("uri", uri))

	if r.db != nil {
		row, err := r.db.GetContact(accountID, uri)
		if err != nil {
			log.Warn("read cached contact", zap.Error(err))
		} else if row != nil {
			c.update(func(s *Snapshot) { applyRow(s, row) })
		}
	}

	if r.opts.System != nil {
		name, ok, err := r.opts.System.LookupName(ctx, accountID, uri)
		if err != nil {
			log.Debug("system contact lookup failed", zap.Error(err))
		} else if ok {
			c.update(func(s *Snapshot) { s.SystemName = name })
		}
	}

	details, err := bridge.Call(ctx, r.bridge, "getContactDetails", func(n bridge.Native) (map[string]string, error) {
		return n.GetContactDetails(accountID, uri), nil
	})
	if err != nil {
		log.Debug("daemon contact details unavailable", zap.Error(err))
	} else {
		c.update(func(s *Snapshot) { applyDetails(s, details) })
	}

	snap, _ := c.update(func(s *Snapshot) { s.Placeholder = false })
	if snap.RegisteredName == "" {
		err := r.bridge.Exec(ctx, "lookupAddress", func(n bridge.Native) error {
			return n.LookupAddress(accountID, r.opts.NameServer, uri)
		})
		if err != nil {
			log.Debug("address lookup failed", zap.Error(err))
		}
	}
	if cur, ok := r.Lookup(accountID, uri); ok && cur == c {
		r.persist(snap)
	}
}

func applyRow(s *Snapshot, row *store.Contact) {
	if row.DisplayName != "" {
		s.ProfileName = row.DisplayName
	}
	if row.RegisteredName != "" {
		s.RegisteredName = row.RegisteredName
	}
	if row.AddedAt != 0 {
		s.Added = time.UnixMilli(row.AddedAt)
	}
	s.Confirmed = row.Confirmed
	s.Banned = row.Banned
	s.Placeholder = false
}

func applyDetails(s *Snapshot, d map[string]string) {
	if len(d) == 0 {
		return
	}
	if v := d["displayName"]; v != "" {
		s.ProfileName = v
	}
	if v, err := strconv.ParseInt(d["added"], 10, 64); err == nil && v > 0 {
		s.Added = time.Unix(v, 0)
	}
	if v, ok := d["confirmed"]; ok {
		s.Confirmed = v == "true"
	}
	if v, ok := d["banned"]; ok {
		s.Banned = v == "true"
	}
}

func (r *Resolver) persist(s Snapshot) {
	if r.queue == nil || s.Placeholder {
		return
	}
	row := &store.Contact{
		AccountID:      s.AccountID,
		URI:            s.URI,
		DisplayName:    s.ProfileName,
		RegisteredName: s.RegisteredName,
		Confirmed:      s.Confirmed,
		Banned:         s.Banned,
	}
	if !s.Added.IsZero() {
		row.AddedAt = s.Added.UnixMilli()
	}
	r.queue.Enqueue("upsert_contact", func(db *store.DB) error { return db.UpsertContact(row) })
}

// LookupName resolves a registered name through the daemon.
func (r *Resolver) LookupName(ctx context.Context, accountID, name string) (NameResult, error) {
	return r.lookup(ctx, "lookupName", accountID, name, func(n bridge.Native) error {
		return n.LookupName(accountID, r.opts.NameServer, name)
	})
}

// LookupAddress resolves the registered name of an address through the daemon.
func (r *Resolver) LookupAddress(ctx context.Context, accountID, address string) (NameResult, error) {
	return r.lookup(ctx, "lookupAddress", accountID, address, func(n bridge.Native) error {
		return n.LookupAddress(accountID, r.opts.NameServer, address)
	})
}

func (r *Resolver) lookup(ctx context.Context, call, accountID, query string, fn func(bridge.Native) error) (NameResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	// Register before the request so a fast answer is never missed.
	ch, stop := r.lookups.Register(lookupKey{accountID, query})
	defer stop()
	if err := r.bridge.Exec(ctx, call, fn); err != nil {
		return NameResult{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return NameResult{}, fmt.Errorf("%s %q: %w", call, query, ctx.Err())
	}
}

// HandleEvent applies contact-related daemon events. It runs on the bridge
// executor and never blocks on the daemon.
func (r *Resolver) HandleEvent(ev bridge.Event) {
	switch e := ev.(type) {
	case bridge.ContactAdded:
		c := r.FindContact(e.AccountID, e.URI)
		snap, changed := c.update(func(s *Snapshot) {
			s.Banned = false
			s.Confirmed = s.Confirmed || e.Confirmed
			if s.Added.IsZero() {
				s.Added = time.Now()
			}
		})
		if changed {
			r.persist(snap)
		}
	case bridge.ContactRemoved:
		if e.Banned {
			c := r.FindContact(e.AccountID, e.URI)
			if snap, changed := c.update(func(s *Snapshot) { s.Banned = true }); changed {
				r.persist(snap)
			}
			return
		}
		r.remove(e.AccountID, e.URI)
	case bridge.PresenceChanged:
		c := r.FindContact(e.AccountID, e.URI)
		c.update(func(s *Snapshot) { s.Online = e.Online })
	case bridge.RegisteredNameFound:
		res := NameResult{Found: e.State == 0, Name: e.Name, Address: e.Address}
		r.lookups.Resolve(lookupKey{e.AccountID, e.Name}, res)
		r.lookups.Resolve(lookupKey{e.AccountID, e.Address}, res)
		if !res.Found || e.Address == "" {
			return
		}
		if c, ok := r.Lookup(e.AccountID, e.Address); ok {
			if snap, changed := c.update(func(s *Snapshot) { s.RegisteredName = e.Name }); changed {
				r.persist(snap)
			}
		}
	case bridge.ProfileReceived:
		c := r.FindContact(e.AccountID, e.PeerURI)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			name, err := profileName(e.Path)
			if err != nil {
				r.logger.Debug("read profile", zap.String("path", e.Path), zap.Error(err))
				return
			}
			if name == "" {
				return
			}
			if snap, changed := c.update(func(s *Snapshot) { s.ProfileName = name }); changed {
				r.persist(snap)
			}
		}()
	}
}

func (r *Resolver) remove(accountID, uri string) {
	r.mu.Lock()
	c := r.contacts[accountID][uri]
	delete(r.contacts[accountID], uri)
	r.mu.Unlock()
	if c != nil {
		c.subject.Close()
	}
	if r.queue != nil {
		r.queue.Enqueue("delete_contact", func(db *store.DB) error { return db.DeleteContact(accountID, uri) })
	}
}

// profileName extracts the FN property of a vCard.
func profileName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if name, _, _ := strings.Cut(key, ";"); strings.EqualFold(name, "FN") {
			return strings.TrimSpace(val), nil
		}
	}
	return "", sc.Err()
}

// LoadAccount seeds the cache from the store and the daemon contact list.
func (r *Resolver) LoadAccount(ctx context.Context, accountID string) error {
	if r.db != nil {
		rows, err := r.db.ListContacts(accountID)
		if err != nil {
			return fmt.Errorf("list cached contacts: %w", err)
		}
		for i := range rows {
			c := r.cached(accountID, rows[i].URI)
			c.update(func(s *Snapshot) { applyRow(s, &rows[i]) })
		}
	}
	list, err := bridge.Call(ctx, r.bridge, "getContacts", func(n bridge.Native) ([]map[string]string, error) {
		return n.GetContacts(accountID), nil
	})
	if err != nil {
		return err
	}
	for _, details := range list {
		uri := details["id"]
		if uri == "" {
			continue
		}
		c := r.cached(accountID, uri)
		snap, changed := c.update(func(s *Snapshot) {
			applyDetails(s, details)
			s.Placeholder = false
		})
		if changed {
			r.persist(snap)
		}
	}
	return nil
}

// cached returns the entry for uri, creating it already enriched.
func (r *Resolver) cached(accountID, uri string) *Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contacts[accountID] == nil {
		r.contacts[accountID] = make(map[string]*Contact)
	}
	c := r.contacts[accountID][uri]
	if c == nil {
		c = newContact(accountID, uri, r.changed)
		r.contacts[accountID][uri] = c
	}
	c.mu.Lock()
	c.enriched = true
	c.mu.Unlock()
	return c
}

// PurgeAccount drops every cached contact of an account and ends their
// streams.
func (r *Resolver) PurgeAccount(_ context.Context, accountID string) error {
	r.mu.Lock()
	list := r.contacts[accountID]
	delete(r.contacts, accountID)
	r.mu.Unlock()
	for _, c := range list {
		c.subject.Close()
	}
	return nil
}
