// Package conversation assembles per-account conversation views, the smart
// list and the pending request list from daemon events.
package conversation

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/account"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/contact"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/persist"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownConversation is returned for a conversation not held in
	// memory.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrUnknownInteraction is returned for an interaction not held in
	// memory.
	ErrUnknownInteraction = errors.New("unknown interaction")
	// ErrNotTransfer is returned when a transfer operation names another
	// kind of interaction.
	ErrNotTransfer = errors.New("interaction is not a file transfer")
)

// Accounts gives access to account identities.
type Accounts interface {
	Get(accountID string) (account.Account, bool)
}

// Preferences is the read-only settings surface the assembler consults.
type Preferences interface {
	MaxAutoAcceptSize() int64
}

// Options configures an Assembler.
type Options struct {
	TransferDir     string
	RefreshPeriod   time.Duration
	HistoryPageSize int
	LookupRate      rate.Limit
}

// Assembler owns every conversation and interaction of every account.
// Mutations come from the bridge executor and from commands; a single lock
// guards memory and is never held across a daemon or store call.
type Assembler struct {
	bridge   *bridge.Bridge
	db       *store.DB
	queue    *persist.Queue
	accounts Accounts
	contacts *contact.Resolver
	prefs    Preferences
	bus      *bus.Bus
	opts     Options
	logger   *zap.Logger
	limiter  *rate.Limiter

	mu        sync.Mutex
	states    map[string]*accountState
	loads     map[uint32]string
	transfers map[transferKey]*transferWatch

	history *bridge.Waiters[uint32, []Interaction]
}

type accountState struct {
	convs        map[string]*conversation
	requests     map[string]*request
	smart        *bus.Subject[[]*Row]
	pending      *bus.Subject[[]*Row]
	smartOrder   []string
	pendingOrder []string
}

// New creates an assembler. db, q and prefs may be nil.
func New(b *bridge.Bridge, db *store.DB, q *persist.Queue, accounts Accounts, contacts *contact.Resolver,
	prefs Preferences, eb *bus.Bus, opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RefreshPeriod <= 0 {
		opts.RefreshPeriod = 500 * time.Millisecond
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 32
	}
	if opts.LookupRate <= 0 {
		opts.LookupRate = 4
	}
	a := &Assembler{
		bridge:    b,
		db:        db,
		queue:     q,
		accounts:  accounts,
		contacts:  contacts,
		prefs:     prefs,
		bus:       eb,
		opts:      opts,
		logger:    logger,
		limiter:   rate.NewLimiter(opts.LookupRate, 1),
		states:    make(map[string]*accountState),
		loads:     make(map[uint32]string),
		transfers: make(map[transferKey]*transferWatch),
		history:   bridge.NewWaiters[uint32, []Interaction](),
	}
	if contacts != nil {
		contacts.OnChange(a.contactChanged)
	}
	return a
}

func (a *Assembler) selfURI(accountID string) string {
	if a.accounts == nil {
		return ""
	}
	acc, _ := a.accounts.Get(accountID)
	return acc.URI()
}

// stateLocked returns the state of an account, creating it when create is
// set.
func (a *Assembler) stateLocked(accountID string, create bool) *accountState {
	st := a.states[accountID]
	if st == nil && create {
		st = &accountState{
			convs:    make(map[string]*conversation),
			requests: make(map[string]*request),
			smart:        bus.NewSubjectWith([]*Row{}),
			pending:      bus.NewSubjectWith([]*Row{}),
			smartOrder:   []string{},
			pendingOrder: []string{},
		}
		a.states[accountID] = st
	}
	return st
}

func (a *Assembler) convLocked(accountID, conversationID string) *conversation {
	st := a.states[accountID]
	if st == nil {
		return nil
	}
	return st.convs[conversationID]
}

// ensureLocked returns a conversation, creating it when absent.
func (a *Assembler) ensureLocked(accountID, conversationID string) *conversation {
	st := a.stateLocked(accountID, true)
	c := st.convs[conversationID]
	if c == nil {
		c = newConversation(accountID, conversationID)
		st.convs[conversationID] = c
	}
	return c
}

func (a *Assembler) titleOf(accountID, contactURI, title string) string {
	if contactURI != "" && a.contacts != nil {
		return a.contacts.FindContact(accountID, contactURI).Snapshot().BestName()
	}
	if title != "" {
		return title
	}
	return contactURI
}

func (a *Assembler) convTitle(c *conversation) string {
	if c.mode == bridge.ModeOneToOne && c.contactURI != "" {
		return a.titleOf(c.accountID, c.contactURI, "")
	}
	if c.title != "" {
		return c.title
	}
	return c.id
}

// publishLocked re-emits a conversation's view and row and reorders the
// smart list when needed.
func (a *Assembler) publishLocked(c *conversation) {
	if c.contactURI != "" && a.contacts != nil {
		if ct, ok := a.contacts.Lookup(c.accountID, c.contactURI); ok {
			c.online = ct.Snapshot().Online
		}
	}
	title := a.convTitle(c)
	c.view.Publish(c.snapshot(title))
	c.row.set(c.item(title))
	if st := a.states[c.accountID]; st != nil {
		a.reorderLocked(st)
	}
}

// contactChanged republishes the rows whose peer is the changed contact.
func (a *Assembler) contactChanged(s contact.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[s.AccountID]
	if st == nil {
		return
	}
	for _, c := range st.convs {
		if c.contactURI == s.URI {
			a.publishLocked(c)
		}
	}
	if r := st.requests[s.URI]; r != nil {
		r.row.set(r.item(s.AccountID, a.titleOf(s.AccountID, s.URI, r.title)))
	}
}

func listed(c *conversation) bool {
	return c.mode != bridge.ModeRequest
}

// reorderLocked republishes the smart list when its membership or order
// changed.
func (a *Assembler) reorderLocked(st *accountState) {
	convs := make([]*conversation, 0, len(st.convs))
	for _, c := range st.convs {
		if listed(c) {
			convs = append(convs, c)
		}
	}
	slices.SortFunc(convs, func(x, y *conversation) int {
		if c := y.lastActivity.Compare(x.lastActivity); c != 0 {
			return c
		}
		return cmp.Compare(x.id, y.id)
	})
	order := make([]string, len(convs))
	rows := make([]*Row, len(convs))
	for i, c := range convs {
		order[i] = c.id
		rows[i] = c.row
	}
	if slices.Equal(order, st.smartOrder) {
		return
	}
	st.smartOrder = order
	st.smart.Publish(rows)
}

func (a *Assembler) reorderPendingLocked(st *accountState) {
	reqs := make([]*request, 0, len(st.requests))
	for _, r := range st.requests {
		reqs = append(reqs, r)
	}
	slices.SortFunc(reqs, func(x, y *request) int {
		if c := y.received.Compare(x.received); c != 0 {
			return c
		}
		return cmp.Compare(x.from, y.from)
	})
	order := make([]string, len(reqs))
	rows := make([]*Row, len(reqs))
	for i, r := range reqs {
		order[i] = r.from
		rows[i] = r.row
	}
	if slices.Equal(order, st.pendingOrder) {
		return
	}
	st.pendingOrder = order
	st.pending.Publish(rows)
}

// removeConvLocked drops a conversation from memory and ends its streams.
func (a *Assembler) removeConvLocked(accountID, conversationID string) {
	st := a.states[accountID]
	if st == nil {
		return
	}
	c := st.convs[conversationID]
	if c == nil {
		return
	}
	delete(st.convs, conversationID)
	for key, w := range a.transfers {
		if key.accountID == accountID && key.conversationID == conversationID {
			w.close()
			delete(a.transfers, key)
		}
	}
	c.view.Close()
	c.row.subject.Close()
	a.reorderLocked(st)
}

func (a *Assembler) removeRequestLocked(st *accountState, from string) *request {
	r := st.requests[from]
	if r == nil {
		return nil
	}
	delete(st.requests, from)
	r.row.subject.Close()
	a.reorderPendingLocked(st)
	return r
}

func (a *Assembler) requestByConvLocked(st *accountState, conversationID string) *request {
	for _, r := range st.requests {
		if r.conversationID == conversationID {
			return r
		}
	}
	return nil
}

// Get returns the current view of a conversation.
func (a *Assembler) Get(accountID, conversationID string) (Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		return Conversation{}, false
	}
	return c.snapshot(a.convTitle(c)), true
}

// Observe streams a conversation view, current value first. The stream ends
// when the conversation is removed.
func (a *Assembler) Observe(accountID, conversationID string) (<-chan Conversation, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		return nil, nil, ErrUnknownConversation
	}
	if _, ok := c.view.Value(); !ok {
		c.view.Publish(c.snapshot(a.convTitle(c)))
	}
	ch, cancel := c.view.Subscribe()
	return ch, cancel, nil
}

// SmartList streams an account's conversations ordered by most recent
// activity. Every emitted list holds live rows; presence is carried in each
// row's Online field.
func (a *Assembler) SmartList(accountID string) (<-chan []*Row, func()) {
	a.mu.Lock()
	st := a.stateLocked(accountID, true)
	a.mu.Unlock()
	return st.smart.Subscribe()
}

// PendingList streams an account's pending requests in the same shape as
// SmartList.
func (a *Assembler) PendingList(accountID string) (<-chan []*Row, func()) {
	a.mu.Lock()
	st := a.stateLocked(accountID, true)
	a.mu.Unlock()
	return st.pending.Subscribe()
}

// Items returns the current smart list values of an account.
func (a *Assembler) Items(accountID string) []Item {
	a.mu.Lock()
	st := a.stateLocked(accountID, false)
	var rows []*Row
	if st != nil {
		rows, _ = st.smart.Value()
	}
	a.mu.Unlock()
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Current())
	}
	return out
}

// PendingItems returns the current pending list values of an account.
func (a *Assembler) PendingItems(accountID string) []Item {
	a.mu.Lock()
	st := a.stateLocked(accountID, false)
	var rows []*Row
	if st != nil {
		rows, _ = st.pending.Value()
	}
	a.mu.Unlock()
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Current())
	}
	return out
}

// persistInteraction queues the durable copy of i.
func (a *Assembler) persistInteraction(c *conversation, i Interaction) {
	if a.queue == nil {
		return
	}
	conv := convRow(c, false)
	row := interactionRow(c.accountID, i)
	a.queue.Enqueue("insert_interaction", func(db *store.DB) error { return db.InsertInteraction(&conv, &row) })
}

func (a *Assembler) persistConversation(c *conversation) {
	if a.queue == nil {
		return
	}
	conv := convRow(c, true)
	a.queue.Enqueue("upsert_conversation", func(db *store.DB) error { return db.UpsertConversation(&conv) })
}

func (a *Assembler) persistUpdate(accountID string, i Interaction) {
	if a.queue == nil {
		return
	}
	row := interactionRow(accountID, i)
	a.queue.Enqueue("update_interaction", func(db *store.DB) error { return db.UpdateInteraction(&row) })
}

func (a *Assembler) notify(kind string, payload any) {
	a.bus.Notify(kind, payload)
}

func convRow(c *conversation, withMembers bool) store.Conversation {
	row := store.Conversation{
		AccountID:      c.accountID,
		ConversationID: c.id,
		Mode:           c.mode.String(),
		ContactURI:     c.contactURI,
	}
	if !c.lastActivity.IsZero() && !c.provisional {
		row.LastActivity = c.lastActivity.UnixMilli()
	}
	if withMembers {
		row.Members = slices.Clone(c.members)
		if row.Members == nil {
			row.Members = []string{}
		}
	}
	return row
}

func interactionRow(accountID string, i Interaction) store.Interaction {
	row := store.Interaction{
		AccountID:        accountID,
		ConversationID:   i.ConversationID,
		InteractionID:    i.ID,
		Seq:              i.Seq,
		Kind:             string(i.Kind),
		Author:           i.Author,
		Body:             i.Body,
		Status:           i.Status.String(),
		Incoming:         i.Incoming,
		FileID:           i.FileID,
		FilePath:         i.FilePath,
		TotalSize:        i.TotalSize,
		BytesTransferred: i.BytesTransferred,
		DurationMS:       i.Duration.Milliseconds(),
	}
	if !i.Timestamp.IsZero() {
		row.Timestamp = i.Timestamp.UnixMilli()
	}
	if i.Kind == KindContact {
		row.Body = i.MemberURI
	}
	return row
}

func fromRow(row store.Interaction) Interaction {
	i := Interaction{
		ID:               row.InteractionID,
		ConversationID:   row.ConversationID,
		Seq:              row.Seq,
		Kind:             Kind(row.Kind),
		Author:           row.Author,
		Incoming:         row.Incoming,
		Body:             row.Body,
		Status:           ParseStatus(row.Status),
		FileID:           row.FileID,
		FilePath:         row.FilePath,
		TotalSize:        row.TotalSize,
		BytesTransferred: row.BytesTransferred,
		Duration:         time.Duration(row.DurationMS) * time.Millisecond,
	}
	if row.Timestamp != 0 {
		i.Timestamp = time.UnixMilli(row.Timestamp)
	}
	if i.Kind == KindContact {
		i.MemberURI, i.Body = row.Body, ""
	}
	return i
}

// fromMessage converts a decoded commit. Commits with no user-visible
// meaning are skipped.
func fromMessage(m bridge.Message, self string) (Interaction, bool) {
	i := Interaction{
		ID:        m.ID,
		Author:    m.Author,
		Incoming:  m.Author != "" && m.Author != self,
		ReplyTo:   m.ReplyTo,
		Timestamp: m.Timestamp,
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
	switch m.Kind {
	case bridge.MessageText:
		i.Kind = KindText
		i.Body = m.Body
		if !i.Incoming {
			i.Status = StatusSending
		}
		for peer, s := range m.Status {
			if peer == self && !i.Incoming {
				continue
			}
			i.Status, _ = advance(i.Status, statusFromMessage(s))
		}
	case bridge.MessageCall:
		i.Kind = KindCall
		i.Duration = m.Duration
	case bridge.MessageTransfer:
		i.Kind = KindTransfer
		i.FileID = m.FileID
		i.FileName = m.FileName
		i.TotalSize = m.TotalSize
		i.Status = StatusTransferCreated
	case bridge.MessageMember:
		i.Kind = KindContact
		i.MemberURI = m.MemberURI
		i.Action = m.Action
	default:
		return Interaction{}, false
	}
	return i, true
}
