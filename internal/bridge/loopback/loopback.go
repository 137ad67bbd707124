// Package loopback is an in-process stand-in for the native daemon. It keeps
// accounts, contacts and conversations in memory and answers through the
// same callbacks the real daemon uses.
package loopback

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
)

// Daemon result codes reported through the *Ended callbacks.
const (
	RevokeSuccess       = 0
	RevokeWrongPassword = 1
	RevokeUnknownDevice = 2

	RegisterSuccess       = 0
	RegisterWrongPassword = 1
	RegisterInvalidName   = 2
	RegisterAlreadyTaken  = 3

	LookupFound    = 0
	LookupNotFound = 1
)

// ErrNotFound is returned for unknown accounts or conversations.
var ErrNotFound = errors.New("loopback: not found")

// CodedError is a native failure with a daemon error code.
type CodedError struct {
	Op     string
	Status int
}

func (e *CodedError) Error() string { return fmt.Sprintf("%s failed with code %d", e.Op, e.Status) }
func (e *CodedError) Code() int     { return e.Status }

type account struct {
	details  map[string]string
	volatile map[string]string
	devices  map[string]string
	password string
	contacts map[string]*contact
	requests map[string]map[string]string
	convs    map[string]*conversation
}

type contact struct {
	added          int64
	confirmed      bool
	banned         bool
	conversationID string
	displayName    string
}

type conversation struct {
	infos    map[string]string
	members  []map[string]string
	messages []bridge.SwarmMessage
}

type transfer struct {
	path     string
	total    int64
	progress int64
}

// Daemon implements bridge.Native.
type Daemon struct {
	mu        sync.Mutex
	cb        bridge.Callbacks
	accounts  map[string]*account
	order     []string
	names     map[string]string
	transfers map[string]*transfer
	calls     map[string]int
	failures  map[string]error
	nextReq   uint32
	clock     func() time.Time
}

var _ bridge.Native = (*Daemon)(nil)

// New creates an empty daemon.
func New() *Daemon {
	return &Daemon{
		accounts:  make(map[string]*account),
		names:     make(map[string]string),
		transfers: make(map[string]*transfer),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		clock:     time.Now,
	}
}

// Attach sets the callback target. Callbacks fire after the daemon lock is
// released, from the goroutine that triggered them.
func (d *Daemon) Attach(cb bridge.Callbacks) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// Fail makes the named call return err until cleared with a nil err.
func (d *Daemon) Fail(call string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, call)
		return
	}
	d.failures[call] = err
}

// Calls reports how many times the named native call was made.
func (d *Daemon) Calls(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[call]
}

type fire []func(bridge.Callbacks)

func (d *Daemon) enter(call string) (fire, error) {
	d.mu.Lock()
	d.calls[call]++
	return nil, d.failures[call]
}

func (d *Daemon) leave(f fire) {
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return
	}
	for _, fn := range f {
		fn(cb)
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (d *Daemon) now() int64 { return d.clock().Unix() }

// ---- accounts ----

func (d *Daemon) GetAccountList() []string {
	f, _ := d.enter("GetAccountList")
	defer d.leave(f)
	return slices.Clone(d.order)
}

func (d *Daemon) GetAccountDetails(accountID string) map[string]string {
	f, _ := d.enter("GetAccountDetails")
	defer d.leave(f)
	if a := d.accounts[accountID]; a != nil {
		return maps.Clone(a.details)
	}
	return map[string]string{}
}

func (d *Daemon) GetVolatileAccountDetails(accountID string) map[string]string {
	f, _ := d.enter("GetVolatileAccountDetails")
	defer d.leave(f)
	if a := d.accounts[accountID]; a != nil {
		return maps.Clone(a.volatile)
	}
	return map[string]string{}
}

func (d *Daemon) GetKnownRingDevices(accountID string) map[string]string {
	f, _ := d.enter("GetKnownRingDevices")
	defer d.leave(f)
	if a := d.accounts[accountID]; a != nil {
		return maps.Clone(a.devices)
	}
	return map[string]string{}
}

func (d *Daemon) AddAccount(details map[string]string) (string, error) {
	f, err := d.enter("AddAccount")
	defer func() { d.leave(f) }()
	if err != nil {
		return "", err
	}
	id := newID()[:16]
	deviceID := newID()
	a := &account{
		details:  maps.Clone(details),
		volatile: map[string]string{bridge.KeyRegistrationStatus: "INITIALIZING"},
		devices:  map[string]string{deviceID: "loopback"},
		contacts: make(map[string]*contact),
		requests: make(map[string]map[string]string),
		convs:    make(map[string]*conversation),
	}
	if a.details == nil {
		a.details = map[string]string{}
	}
	if a.details[bridge.KeyUsername] == "" {
		a.details[bridge.KeyUsername] = newID()
	}
	a.password = a.details["Account.archivePassword"]
	delete(a.details, "Account.archivePassword")
	a.details[bridge.KeyHasPassword] = strconv.FormatBool(a.password != "")
	a.details[bridge.KeyEnabled] = "true"
	a.details["Account.deviceID"] = deviceID
	d.accounts[id] = a
	d.order = append(d.order, id)

	f = append(f,
		func(cb bridge.Callbacks) { cb.AccountsChanged() },
		func(cb bridge.Callbacks) { cb.RegistrationStateChanged(id, "INITIALIZING", 0, "") },
	)
	return id, nil
}

func (d *Daemon) RemoveAccount(accountID string) error {
	f, err := d.enter("RemoveAccount")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	if d.accounts[accountID] == nil {
		return ErrNotFound
	}
	delete(d.accounts, accountID)
	d.order = slices.DeleteFunc(d.order, func(id string) bool { return id == accountID })
	f = append(f, func(cb bridge.Callbacks) { cb.AccountsChanged() })
	return nil
}

func (d *Daemon) SetAccountActive(accountID string, active bool) error {
	f, err := d.enter("SetAccountActive")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	a.details[bridge.KeyEnabled] = strconv.FormatBool(active)
	state := "UNREGISTERED"
	if active {
		state = "REGISTERED"
	}
	a.volatile[bridge.KeyRegistrationStatus] = state
	f = append(f, func(cb bridge.Callbacks) { cb.RegistrationStateChanged(accountID, state, 0, "") })
	return nil
}

func (d *Daemon) RevokeDevice(accountID, deviceID, _ string, password string) error {
	f, err := d.enter("RevokeDevice")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	state := RevokeSuccess
	switch {
	case a.password != password:
		state = RevokeWrongPassword
	case a.devices[deviceID] == "":
		state = RevokeUnknownDevice
	default:
		delete(a.devices, deviceID)
		devices := maps.Clone(a.devices)
		f = append(f, func(cb bridge.Callbacks) { cb.KnownDevicesChanged(accountID, devices) })
	}
	f = append(f, func(cb bridge.Callbacks) { cb.DeviceRevocationEnded(accountID, deviceID, state) })
	return nil
}

func (d *Daemon) SetDeviceName(accountID, name string) error {
	f, err := d.enter("SetDeviceName")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	a.devices[a.details["Account.deviceID"]] = name
	devices := maps.Clone(a.devices)
	f = append(f, func(cb bridge.Callbacks) { cb.KnownDevicesChanged(accountID, devices) })
	return nil
}

func (d *Daemon) RegisterName(accountID, name, _ string, password string) error {
	f, err := d.enter("RegisterName")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	state := RegisterSuccess
	switch {
	case a.password != password:
		state = RegisterWrongPassword
	case name == "" || strings.ContainsAny(name, " @/"):
		state = RegisterInvalidName
	case d.names[name] != "" && d.names[name] != a.details[bridge.KeyUsername]:
		state = RegisterAlreadyTaken
	default:
		d.names[name] = a.details[bridge.KeyUsername]
		a.details[bridge.KeyRegisteredName] = name
		details := maps.Clone(a.details)
		f = append(f, func(cb bridge.Callbacks) { cb.AccountDetailsChanged(accountID, details) })
	}
	f = append(f, func(cb bridge.Callbacks) { cb.NameRegistrationEnded(accountID, state, name) })
	return nil
}

func (d *Daemon) MigrateAccount(accountID, password string) error {
	f, err := d.enter("MigrateAccount")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	state := "SUCCESS"
	if a.password != password {
		state = "INVALID"
	}
	f = append(f, func(cb bridge.Callbacks) { cb.MigrationEnded(accountID, state) })
	return nil
}

// ---- contacts ----

func (d *Daemon) GetContacts(accountID string) []map[string]string {
	f, _ := d.enter("GetContacts")
	defer d.leave(f)
	a := d.accounts[accountID]
	if a == nil {
		return nil
	}
	out := make([]map[string]string, 0, len(a.contacts))
	for _, uri := range slices.Sorted(maps.Keys(a.contacts)) {
		out = append(out, contactDetails(uri, a.contacts[uri]))
	}
	return out
}

func contactDetails(uri string, c *contact) map[string]string {
	return map[string]string{
		"id":             uri,
		"added":          strconv.FormatInt(c.added, 10),
		"confirmed":      strconv.FormatBool(c.confirmed),
		"banned":         strconv.FormatBool(c.banned),
		"conversationId": c.conversationID,
		"displayName":    c.displayName,
	}
}

func (d *Daemon) GetContactDetails(accountID, uri string) map[string]string {
	f, _ := d.enter("GetContactDetails")
	defer d.leave(f)
	a := d.accounts[accountID]
	if a == nil || a.contacts[uri] == nil {
		return map[string]string{}
	}
	return contactDetails(uri, a.contacts[uri])
}

// AddContact creates the one-to-one conversation with uri when none exists.
func (d *Daemon) AddContact(accountID, uri string) error {
	f, err := d.enter("AddContact")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	c := a.contacts[uri]
	if c == nil {
		c = &contact{added: d.now()}
		a.contacts[uri] = c
	}
	c.banned = false
	if c.conversationID == "" {
		convID := newID()
		self := a.details[bridge.KeyUsername]
		a.convs[convID] = &conversation{
			infos: map[string]string{"mode": "0"},
			members: []map[string]string{
				{"uri": self, "role": "admin"},
				{"uri": uri, "role": "invited"},
			},
		}
		c.conversationID = convID
		f = append(f, func(cb bridge.Callbacks) { cb.ConversationReady(accountID, convID) })
	}
	confirmed := c.confirmed
	f = append(f, func(cb bridge.Callbacks) { cb.ContactAdded(accountID, uri, confirmed) })
	return nil
}

func (d *Daemon) RemoveContact(accountID, uri string, ban bool) error {
	f, err := d.enter("RemoveContact")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	if c := a.contacts[uri]; c != nil {
		if ban {
			c.banned = true
		} else {
			delete(a.contacts, uri)
		}
	}
	f = append(f, func(cb bridge.Callbacks) { cb.ContactRemoved(accountID, uri, ban) })
	return nil
}

func (d *Daemon) AcceptTrustRequest(accountID, from string) error {
	f, err := d.enter("AcceptTrustRequest")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	req := a.requests[from]
	delete(a.requests, from)
	c := a.contacts[from]
	if c == nil {
		c = &contact{added: d.now()}
		a.contacts[from] = c
	}
	c.confirmed = true
	if req != nil && req["id"] != "" {
		convID := req["id"]
		c.conversationID = convID
		if a.convs[convID] == nil {
			a.convs[convID] = &conversation{
				infos: map[string]string{"mode": "0"},
				members: []map[string]string{
					{"uri": a.details[bridge.KeyUsername], "role": "member"},
					{"uri": from, "role": "admin"},
				},
			}
		}
		f = append(f, func(cb bridge.Callbacks) { cb.ConversationReady(accountID, convID) })
	}
	f = append(f, func(cb bridge.Callbacks) { cb.ContactAdded(accountID, from, true) })
	return nil
}

func (d *Daemon) DiscardTrustRequest(accountID, from string) error {
	f, err := d.enter("DiscardTrustRequest")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	req := a.requests[from]
	delete(a.requests, from)
	if req != nil && req["id"] != "" {
		convID := req["id"]
		f = append(f, func(cb bridge.Callbacks) { cb.ConversationRequestDeclined(accountID, convID) })
	}
	return nil
}

func (d *Daemon) LookupName(accountID, _ string, name string) error {
	f, err := d.enter("LookupName")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	addr, ok := d.names[name]
	state := LookupFound
	if !ok {
		state = LookupNotFound
	}
	f = append(f, func(cb bridge.Callbacks) { cb.RegisteredNameFound(accountID, state, addr, name) })
	return nil
}

func (d *Daemon) LookupAddress(accountID, _ string, address string) error {
	f, err := d.enter("LookupAddress")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	state, name := LookupNotFound, ""
	for n, addr := range d.names {
		if addr == address {
			state, name = LookupFound, n
			break
		}
	}
	f = append(f, func(cb bridge.Callbacks) { cb.RegisteredNameFound(accountID, state, address, name) })
	return nil
}
