package conversation

import (
	"cmp"
	"slices"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
)

func sortBySeq(list []Interaction) {
	slices.SortFunc(list, func(x, y Interaction) int { return cmp.Compare(x.Seq, y.Seq) })
}

// HandleEvent folds conversation events into memory. It runs on the bridge
// executor, never waits on the daemon and hands durable writes to the
// persistence queue.
func (a *Assembler) HandleEvent(ev bridge.Event) {
	switch e := ev.(type) {
	case bridge.ConversationReady:
		self := a.selfURI(e.AccountID)
		a.mu.Lock()
		c := a.applyReadyLocked(e, self)
		empty := len(c.items) == 0
		a.mu.Unlock()
		if empty {
			a.requestHistory(e.AccountID, e.ConversationID, "", a.opts.HistoryPageSize)
		}
	case bridge.ConversationRemoved:
		if a.queue != nil {
			a.queue.Enqueue("delete_conversation", func(db *store.DB) error {
				return db.DeleteConversation(e.AccountID, e.ConversationID)
			})
		}
		a.mu.Lock()
		a.removeConvLocked(e.AccountID, e.ConversationID)
		a.mu.Unlock()
	case bridge.ConversationLoaded:
		self := a.selfURI(e.AccountID)
		a.mu.Lock()
		page := a.applyLoadedLocked(e, self)
		a.mu.Unlock()
		a.history.Resolve(e.RequestID, page)
	case bridge.IncomingMessage:
		a.applyMessage(e)
	case bridge.MessageStatusChanged:
		a.applyStatus(e)
	case bridge.DataTransferEvent:
		a.applyTransfer(e)
	case bridge.ConversationRequestReceived:
		a.applyRequest(e.AccountID, e.From, e.ConversationID, e.Title, e.Mode, e.Received)
	case bridge.TrustRequestReceived:
		a.applyRequest(e.AccountID, e.From, e.ConversationID, "", bridge.ModeOneToOne, e.Received)
	case bridge.ConversationRequestDeclined:
		a.mu.Lock()
		var from string
		if st := a.states[e.AccountID]; st != nil {
			// A request being resolved locally is finished by its command.
			if r := a.requestByConvLocked(st, e.ConversationID); r != nil && !r.resolving {
				from = r.from
				a.removeRequestLocked(st, from)
			}
		}
		a.mu.Unlock()
		if from != "" {
			a.deleteRequestRow(e.AccountID, from)
			a.notify(bus.KindRequestResolved, ResolvedNotification{AccountID: e.AccountID, From: from})
		}
	case bridge.ConversationMemberEvent:
		a.applyMember(e)
	case bridge.PresenceChanged:
		a.mu.Lock()
		if st := a.states[e.AccountID]; st != nil {
			for _, c := range st.convs {
				if c.contactURI == e.URI && c.online != e.Online {
					c.online = e.Online
					a.publishLocked(c)
				}
			}
		}
		a.mu.Unlock()
	}
}

// applyReadyLocked creates or refreshes a conversation from its daemon
// description. A pending request for it is resolved by the same step.
func (a *Assembler) applyReadyLocked(e bridge.ConversationReady, self string) *conversation {
	c := a.ensureLocked(e.AccountID, e.ConversationID)
	c.mode = e.Mode
	c.title = e.Title
	members := make([]string, 0, len(e.Members))
	for _, m := range e.Members {
		members = append(members, m.URI)
	}
	c.setMembers(members, self)
	c.created(time.Now())
	a.persistConversation(c)

	st := a.states[e.AccountID]
	if r := a.requestByConvLocked(st, e.ConversationID); r != nil {
		a.removeRequestLocked(st, r.from)
		a.deleteRequestRow(e.AccountID, r.from)
	}
	a.publishLocked(c)
	return c
}

func (a *Assembler) applyMessage(e bridge.IncomingMessage) {
	self := a.selfURI(e.AccountID)
	a.mu.Lock()
	c := a.convLocked(e.AccountID, e.ConversationID)
	if c == nil {
		a.mu.Unlock()
		a.logger.Debug("message for unknown conversation dropped",
			zap.String("account_id", e.AccountID), zap.String("conversation_id", e.ConversationID))
		return
	}
	if p := c.items[e.Message.ID]; p != nil {
		a.mergeStatusLocked(c, p, e.Message, self)
		a.publishLocked(c)
		a.mu.Unlock()
		return
	}
	i, ok := fromMessage(e.Message, self)
	if !ok {
		a.mu.Unlock()
		return
	}
	p := c.append(i)
	a.applyMemberLocked(c, i, self)
	saved := *p
	a.persistInteraction(c, saved)
	a.publishLocked(c)
	a.mu.Unlock()

	if saved.Incoming && saved.Kind == KindText {
		a.notify(bus.KindMessage, MessageNotification{
			AccountID:      e.AccountID,
			ConversationID: e.ConversationID,
			InteractionID:  saved.ID,
			Author:         saved.Author,
			Body:           saved.Body,
		})
	}
}

// applyMemberLocked keeps the member set in line with membership commits.
func (a *Assembler) applyMemberLocked(c *conversation, i Interaction, self string) bool {
	if i.Kind != KindContact || i.MemberURI == "" {
		return false
	}
	switch i.Action {
	case bridge.MemberAdd, bridge.MemberJoin:
		if slices.Contains(c.members, i.MemberURI) {
			return false
		}
		c.setMembers(append(slices.Clone(c.members), i.MemberURI), self)
	case bridge.MemberRemove, bridge.MemberBan:
		if c.mode == bridge.ModeOneToOne || !slices.Contains(c.members, i.MemberURI) {
			return false
		}
		c.setMembers(slices.DeleteFunc(slices.Clone(c.members), func(m string) bool { return m == i.MemberURI }), self)
	default:
		return false
	}
	a.persistConversation(c)
	return true
}

func (a *Assembler) applyMember(e bridge.ConversationMemberEvent) {
	self := a.selfURI(e.AccountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(e.AccountID, e.ConversationID)
	if c == nil {
		return
	}
	if a.applyMemberLocked(c, Interaction{Kind: KindContact, MemberURI: e.URI, Action: e.Action}, self) {
		a.publishLocked(c)
	}
}

func (a *Assembler) applyStatus(e bridge.MessageStatusChanged) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(e.AccountID, e.ConversationID)
	if c == nil {
		return
	}
	p := c.items[e.MessageID]
	if p == nil || p.Kind != KindText {
		return
	}
	next, changed := advance(p.Status, statusFromMessage(e.Status))
	if !changed {
		return
	}
	p.Status = next
	a.persistUpdate(e.AccountID, *p)
	a.publishLocked(c)
}

// addRequestLocked records a pending request. A second request from the same
// sender merges into the first.
func (a *Assembler) addRequestLocked(accountID, from, conversationID, title string,
	mode bridge.ConversationMode, received time.Time) (*request, bool) {
	st := a.stateLocked(accountID, true)
	if conversationID != "" {
		if c := st.convs[conversationID]; c != nil && listed(c) {
			return nil, false
		}
	}
	if r := st.requests[from]; r != nil {
		if r.conversationID == "" {
			r.conversationID = conversationID
		}
		if title != "" {
			r.title = title
		}
		if received.After(r.received) {
			r.received = received
		}
		r.row.set(r.item(accountID, a.titleOf(accountID, from, r.title)))
		a.reorderPendingLocked(st)
		return r, false
	}
	if received.IsZero() {
		received = time.Now()
	}
	r := &request{from: from, conversationID: conversationID, title: title, mode: mode, received: received}
	r.row = newRow(r.item(accountID, a.titleOf(accountID, from, title)))
	st.requests[from] = r
	a.reorderPendingLocked(st)
	return r, true
}

func (a *Assembler) applyRequest(accountID, from, conversationID, title string,
	mode bridge.ConversationMode, received time.Time) {
	if from == "" {
		return
	}
	a.mu.Lock()
	r, created := a.addRequestLocked(accountID, from, conversationID, title, mode, received)
	var row store.TrustRequest
	if r != nil {
		row = store.TrustRequest{
			AccountID:      accountID,
			FromURI:        from,
			ConversationID: r.conversationID,
			DisplayName:    r.title,
			ReceivedAt:     r.received.UnixMilli(),
		}
	}
	a.mu.Unlock()
	if r == nil {
		return
	}
	if a.queue != nil {
		a.queue.Enqueue("upsert_trust_request", func(db *store.DB) error { return db.UpsertTrustRequest(&row) })
	}
	if created {
		a.notify(bus.KindTrustRequest, RequestNotification{AccountID: accountID, From: from, ConversationID: row.ConversationID})
	}
}

func (a *Assembler) deleteRequestRow(accountID, from string) {
	if a.queue == nil {
		return
	}
	a.queue.Enqueue("delete_trust_request", func(db *store.DB) error { return db.DeleteTrustRequest(accountID, from) })
}
