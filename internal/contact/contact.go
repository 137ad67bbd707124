// Package contact resolves URIs to contacts and keeps the per-account
// contact cache.
package contact

import (
	"sync"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
)

// Snapshot is an immutable view of a contact.
type Snapshot struct {
	AccountID      string
	URI            string
	ProfileName    string
	SystemName     string
	RegisteredName string
	Added          time.Time
	Confirmed      bool
	Banned         bool
	Online         bool
	Placeholder    bool
}

// BestName picks the profile or system name, then the registered name, then
// the URI.
func (s Snapshot) BestName() string {
	switch {
	case s.ProfileName != "":
		return s.ProfileName
	case s.SystemName != "":
		return s.SystemName
	case s.RegisteredName != "":
		return s.RegisteredName
	}
	return s.URI
}

// Contact is the single live instance for an (account, uri) pair. It is
// updated in place and republishes every change.
type Contact struct {
	mu       sync.Mutex
	snap     Snapshot
	enriched bool
	subject  *bus.Subject[Snapshot]
	changed  func(Snapshot)
}

func newContact(accountID, uri string, changed func(Snapshot)) *Contact {
	snap := Snapshot{AccountID: accountID, URI: uri, Placeholder: true}
	return &Contact{snap: snap, subject: bus.NewSubjectWith(snap), changed: changed}
}

// Snapshot returns the current state.
func (c *Contact) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// URI returns the contact URI.
func (c *Contact) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.URI
}

// Observe streams the contact state, current value first.
func (c *Contact) Observe() (<-chan Snapshot, func()) {
	return c.subject.Subscribe()
}

// update applies fn and publishes when the state changed.
func (c *Contact) update(fn func(*Snapshot)) (Snapshot, bool) {
	c.mu.Lock()
	next := c.snap
	fn(&next)
	if next == c.snap {
		c.mu.Unlock()
		return next, false
	}
	c.snap = next
	// Publish under c.mu so concurrent updates reach subscribers in order.
	c.subject.Publish(next)
	c.mu.Unlock()
	if c.changed != nil {
		c.changed(next)
	}
	return next, true
}
