package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"go.uber.org/zap"
)

type daemonState struct {
	convs    []bridge.ConversationReady
	requests []bridge.ConversationRequestReceived
}

func fetchState(accountID string) func(bridge.Native) (daemonState, error) {
	return func(n bridge.Native) (daemonState, error) {
		var out daemonState
		for _, id := range n.GetConversations(accountID) {
			infos := n.ConversationInfos(accountID, id)
			out.convs = append(out.convs, bridge.ConversationReady{
				AccountID:      accountID,
				ConversationID: id,
				Mode:           bridge.DecodeMode(infos),
				Title:          infos["title"],
				Members:        bridge.DecodeMembers(n.GetConversationMembers(accountID, id)),
			})
		}
		for _, meta := range n.GetConversationRequests(accountID) {
			out.requests = append(out.requests, bridge.DecodeRequest(accountID, "", meta))
		}
		return out, nil
	}
}

// LoadAccount seeds an account's lists from the store, reconciles them with
// the daemon and asks for the newest page of every conversation.
func (a *Assembler) LoadAccount(ctx context.Context, accountID string) error {
	self := a.selfURI(accountID)
	seeded := make(map[string]bool)

	if a.db != nil {
		rows, err := a.db.Smartlist(accountID)
		if err != nil {
			return fmt.Errorf("seed smart list: %w", err)
		}
		reqs, err := a.db.ListTrustRequests(accountID)
		if err != nil {
			return fmt.Errorf("seed requests: %w", err)
		}
		a.mu.Lock()
		for _, r := range rows {
			c := a.ensureLocked(accountID, r.Conversation.ConversationID)
			c.mode = bridge.ParseMode(r.Conversation.Mode)
			c.contactURI = r.Conversation.ContactURI
			if r.Conversation.LastActivity > 0 {
				c.touch(time.UnixMilli(r.Conversation.LastActivity))
			}
			if r.Last != nil && c.items[r.Last.InteractionID] == nil {
				c.restore(fromRow(*r.Last))
			}
			seeded[c.id] = true
			a.publishLocked(c)
		}
		for _, r := range reqs {
			a.addRequestLocked(accountID, r.FromURI, r.ConversationID, r.DisplayName,
				bridge.ModeOneToOne, time.UnixMilli(r.ReceivedAt))
		}
		a.mu.Unlock()
	}

	ds, err := bridge.Call(ctx, a.bridge, "getConversations", fetchState(accountID))
	if err != nil {
		return err
	}
	a.mu.Lock()
	live := make(map[string]bool, len(ds.convs))
	ids := make([]string, 0, len(ds.convs))
	for _, e := range ds.convs {
		a.applyReadyLocked(e, self)
		live[e.ConversationID] = true
		ids = append(ids, e.ConversationID)
	}
	for _, e := range ds.requests {
		a.addRequestLocked(accountID, e.From, e.ConversationID, e.Title, e.Mode, e.Received)
	}
	var stale []string
	for id := range seeded {
		if !live[id] {
			stale = append(stale, id)
			a.removeConvLocked(accountID, id)
		}
	}
	a.mu.Unlock()

	for _, id := range stale {
		a.logger.Debug("dropping conversation unknown to the daemon",
			zap.String("account_id", accountID), zap.String("conversation_id", id))
		if a.db != nil {
			if err := a.db.DeleteConversation(accountID, id); err != nil {
				a.logger.Warn("delete stale conversation", zap.Error(err))
			}
		}
	}
	for _, id := range ids {
		a.requestHistory(accountID, id, "", a.opts.HistoryPageSize)
	}
	a.logger.Info("conversations loaded", zap.String("account_id", accountID),
		zap.Int("conversations", len(ids)), zap.Int("requests", len(ds.requests)))
	return nil
}

// PurgeAccount drops every conversation and request of an account from
// memory and ends their streams.
func (a *Assembler) PurgeAccount(_ context.Context, accountID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[accountID]
	if st == nil {
		return nil
	}
	for id := range st.convs {
		a.removeConvLocked(accountID, id)
	}
	for from := range st.requests {
		a.removeRequestLocked(st, from)
	}
	st.smart.Close()
	st.pending.Close()
	delete(a.states, accountID)
	return nil
}

// requestHistory asks for a page without waiting for it. It is safe to call
// from the executor.
func (a *Assembler) requestHistory(accountID, conversationID, from string, n int) {
	a.bridge.Post("loadConversationMessages", func(nat bridge.Native) {
		id := nat.LoadConversationMessages(accountID, conversationID, from, n)
		a.mu.Lock()
		a.loads[id] = from
		a.mu.Unlock()
	})
}

// LoadHistory returns at most n interactions older than fromID, or the
// newest n when fromID is empty, oldest first. Interactions already in
// memory are never duplicated.
func (a *Assembler) LoadHistory(ctx context.Context, accountID, conversationID, fromID string, n int) ([]Interaction, error) {
	if n <= 0 {
		n = a.opts.HistoryPageSize
	}
	a.mu.Lock()
	known := a.convLocked(accountID, conversationID) != nil
	a.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("load history %s: %w", conversationID, ErrUnknownConversation)
	}

	type pending struct {
		ch     <-chan []Interaction
		cancel func()
	}
	p, err := bridge.Call(ctx, a.bridge, "loadConversationMessages", func(nat bridge.Native) (pending, error) {
		id := nat.LoadConversationMessages(accountID, conversationID, fromID, n)
		// The answer is decoded by a later executor task, so registering
		// here cannot miss it.
		ch, cancel := a.history.Register(id)
		a.mu.Lock()
		a.loads[id] = fromID
		a.mu.Unlock()
		return pending{ch, cancel}, nil
	})
	if err != nil {
		return nil, err
	}
	defer p.cancel()
	select {
	case page := <-p.ch:
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applyLoadedLocked merges a page delivered newest first. Messages newer
// than anything known go after the known history, the rest before it.
func (a *Assembler) applyLoadedLocked(e bridge.ConversationLoaded, self string) []Interaction {
	from, requested := a.loads[e.RequestID]
	delete(a.loads, e.RequestID)
	c := a.convLocked(e.AccountID, e.ConversationID)
	if c == nil {
		return nil
	}

	newer := requested && from == "" && len(c.items) > 0
	var front []Interaction
	page := make([]Interaction, 0, len(e.Messages))
	for _, m := range e.Messages {
		if p := c.items[m.ID]; p != nil {
			newer = false
			a.mergeStatusLocked(c, p, m, self)
			page = append(page, *p)
			continue
		}
		i, ok := fromMessage(m, self)
		if !ok {
			continue
		}
		if newer {
			front = append(front, i)
			continue
		}
		p := c.prepend(i)
		a.persistInteraction(c, *p)
		page = append(page, *p)
	}
	for k := len(front) - 1; k >= 0; k-- {
		p := c.append(front[k])
		a.persistInteraction(c, *p)
		page = append(page, *p)
	}
	a.publishLocked(c)

	out := make([]Interaction, 0, len(page))
	for _, i := range page {
		if p := c.items[i.ID]; p != nil {
			out = append(out, *p)
		}
	}
	sortBySeq(out)
	return out
}

// mergeStatusLocked applies the per-peer statuses a commit carries.
func (a *Assembler) mergeStatusLocked(c *conversation, p *Interaction, m bridge.Message, self string) {
	if p.Kind != KindText {
		return
	}
	changed := false
	for peer, s := range m.Status {
		if peer == self && !p.Incoming {
			continue
		}
		var ok bool
		if p.Status, ok = advance(p.Status, statusFromMessage(s)); ok {
			changed = true
		}
	}
	if changed {
		a.persistUpdate(c.accountID, *p)
	}
}

// HistoryBetween reads stored interactions of a conversation within a time
// range, oldest first.
func (a *Assembler) HistoryBetween(accountID, conversationID string, from, to time.Time) ([]Interaction, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.ListInteractionsByTime(accountID, conversationID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	out := make([]Interaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}
