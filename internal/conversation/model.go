package conversation

import (
	"cmp"
	"slices"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
)

// Kind classifies an interaction.
type Kind string

const (
	KindText     Kind = store.KindText
	KindCall     Kind = store.KindCall
	KindTransfer Kind = store.KindTransfer
	KindContact  Kind = store.KindContact
)

// Interaction is an immutable view of one conversation item.
type Interaction struct {
	ID             string
	ConversationID string
	Seq            int64
	Kind           Kind
	Author         string
	Incoming       bool
	Body           string
	ReplyTo        string
	Status         Status
	Timestamp      time.Time

	FileID           string
	FileName         string
	FilePath         string
	TotalSize        int64
	BytesTransferred int64

	Duration time.Duration

	MemberURI string
	Action    bridge.MemberAction
}

// Conversation is an immutable view of a conversation and the part of its
// history held in memory, ordered by local sequence.
type Conversation struct {
	AccountID    string
	ID           string
	Mode         bridge.ConversationMode
	Title        string
	ContactURI   string
	Members      []string
	LastActivity time.Time
	Interactions []Interaction
}

// Item is one smart list or pending list entry.
type Item struct {
	AccountID      string
	ConversationID string
	ContactURI     string
	Title          string
	Mode           bridge.ConversationMode
	LastActivity   time.Time
	Last           Interaction
	HasLast        bool
	Online         bool
}

// Row is a live list entry. Its stream re-emits when that entry alone
// changes, so a list consumer can re-render a single row.
type Row struct {
	AccountID      string
	ConversationID string
	subject        *bus.Subject[Item]
}

func newRow(item Item) *Row {
	return &Row{AccountID: item.AccountID, ConversationID: item.ConversationID, subject: bus.NewSubjectWith(item)}
}

// Observe streams the entry, current value first.
func (r *Row) Observe() (<-chan Item, func()) { return r.subject.Subscribe() }

// Current returns the latest value.
func (r *Row) Current() Item {
	v, _ := r.subject.Value()
	return v
}

func (r *Row) set(item Item) {
	if cur, ok := r.subject.Value(); ok && cur == item {
		return
	}
	r.subject.Publish(item)
}

// conversation is the mutable state behind a Conversation. It is guarded by
// the assembler lock.
type conversation struct {
	accountID    string
	id           string
	mode         bridge.ConversationMode
	title        string
	members      []string
	contactURI   string
	lastActivity time.Time
	provisional  bool
	online       bool

	items     map[string]*Interaction
	byFile    map[string]string
	high, low int64

	view *bus.Subject[Conversation]
	row  *Row
}

func newConversation(accountID, id string) *conversation {
	c := &conversation{
		accountID: accountID,
		id:        id,
		mode:      bridge.ModeSyncing,
		items:     make(map[string]*Interaction),
		byFile:    make(map[string]string),
		low:       1,
		view:      bus.NewSubject[Conversation](),
	}
	c.row = newRow(Item{AccountID: accountID, ConversationID: id, Mode: c.mode})
	return c
}

// append places i after everything known.
func (c *conversation) append(i Interaction) *Interaction {
	c.high++
	i.Seq = c.high
	return c.put(i)
}

// prepend places i before everything known.
func (c *conversation) prepend(i Interaction) *Interaction {
	c.low--
	i.Seq = c.low
	return c.put(i)
}

// restore places i at a previously assigned sequence.
func (c *conversation) restore(i Interaction) *Interaction {
	if len(c.items) == 0 {
		c.high, c.low = i.Seq, i.Seq
	}
	c.high = max(c.high, i.Seq)
	c.low = min(c.low, i.Seq)
	return c.put(i)
}

func (c *conversation) put(i Interaction) *Interaction {
	i.ConversationID = c.id
	p := &i
	c.items[i.ID] = p
	if i.FileID != "" {
		c.byFile[i.FileID] = i.ID
	}
	c.touch(i.Timestamp)
	return p
}

// touch records activity at t. A provisional time is replaced outright by
// the first real one.
func (c *conversation) touch(t time.Time) {
	if c.provisional {
		c.provisional = false
		c.lastActivity = t
		return
	}
	if t.After(c.lastActivity) {
		c.lastActivity = t
	}
}

// created gives a conversation without known activity a provisional time
// so it can be listed until its first interaction is known.
func (c *conversation) created(t time.Time) {
	if c.lastActivity.IsZero() {
		c.lastActivity = t
		c.provisional = true
	}
}

func (c *conversation) rekey(oldID, newID string) *Interaction {
	p := c.items[oldID]
	if p == nil {
		return nil
	}
	delete(c.items, oldID)
	if existing := c.items[newID]; existing != nil {
		// The daemon echo won the race; keep the optimistic position.
		existing.Seq = p.Seq
		existing.Status, _ = advance(p.Status, existing.Status)
		return existing
	}
	p.ID = newID
	c.items[newID] = p
	return p
}

func (c *conversation) byTransfer(interactionID, fileID string) *Interaction {
	if p := c.items[interactionID]; p != nil {
		return p
	}
	if id, ok := c.byFile[fileID]; ok {
		return c.items[id]
	}
	return nil
}

func (c *conversation) last() (Interaction, bool) {
	var best *Interaction
	for _, p := range c.items {
		if best == nil || p.Seq > best.Seq {
			best = p
		}
	}
	if best == nil {
		return Interaction{}, false
	}
	return *best, true
}

func (c *conversation) snapshot(title string) Conversation {
	out := Conversation{
		AccountID:    c.accountID,
		ID:           c.id,
		Mode:         c.mode,
		Title:        title,
		ContactURI:   c.contactURI,
		Members:      slices.Clone(c.members),
		LastActivity: c.lastActivity,
		Interactions: make([]Interaction, 0, len(c.items)),
	}
	for _, p := range c.items {
		out.Interactions = append(out.Interactions, *p)
	}
	slices.SortFunc(out.Interactions, func(a, b Interaction) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (c *conversation) item(title string) Item {
	it := Item{
		AccountID:      c.accountID,
		ConversationID: c.id,
		ContactURI:     c.contactURI,
		Title:          title,
		Mode:           c.mode,
		LastActivity:   c.lastActivity,
		Online:         c.online,
	}
	it.Last, it.HasLast = c.last()
	return it
}

// setMembers replaces the member list and derives the peer of a one-to-one
// conversation.
func (c *conversation) setMembers(members []string, self string) {
	c.members = slices.Clone(members)
	if c.mode != bridge.ModeOneToOne {
		c.contactURI = ""
		return
	}
	for _, m := range members {
		if m != self {
			c.contactURI = m
			return
		}
	}
}

// request is a pending invitation, keyed by sender.
type request struct {
	from           string
	conversationID string
	title          string
	mode           bridge.ConversationMode
	received       time.Time
	resolving      bool
	row            *Row
}

func (r *request) item(accountID, title string) Item {
	return Item{
		AccountID:      accountID,
		ConversationID: r.conversationID,
		ContactURI:     r.from,
		Title:          title,
		Mode:           bridge.ModeRequest,
		LastActivity:   r.received,
	}
}

// Notification payloads published on the bus.
type (
	MessageNotification struct {
		AccountID      string
		ConversationID string
		InteractionID  string
		Author         string
		Body           string
	}
	RequestNotification struct {
		AccountID      string
		From           string
		ConversationID string
	}
	ResolvedNotification struct {
		AccountID string
		From      string
		Accepted  bool
	}
	TransferNotification struct {
		AccountID        string
		ConversationID   string
		InteractionID    string
		Status           Status
		BytesTransferred int64
		TotalSize        int64
	}
)
