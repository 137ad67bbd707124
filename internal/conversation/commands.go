package conversation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
)

// localID returns a sortable id for an interaction the daemon has not named
// yet.
func localID(now time.Time) string {
	return "local-" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// StartConversation returns the one-to-one conversation with a single
// member when one exists, and otherwise asks the daemon for a new
// conversation with the given members.
func (a *Assembler) StartConversation(ctx context.Context, accountID string, members []string) (Conversation, error) {
	self := a.selfURI(accountID)
	members = slices.DeleteFunc(slices.Clone(members), func(m string) bool { return m == "" || m == self })
	slices.Sort(members)
	members = slices.Compact(members)
	if len(members) == 0 {
		return Conversation{}, errors.New("start conversation: no members")
	}

	if len(members) == 1 {
		if c, ok := a.findOneToOne(accountID, members[0]); ok {
			return c, nil
		}
	}

	convID, err := bridge.Call(ctx, a.bridge, "startConversation", func(n bridge.Native) (string, error) {
		if len(members) == 1 {
			if err := n.AddContact(accountID, members[0]); err != nil {
				return "", err
			}
			id := n.GetContactDetails(accountID, members[0])["conversationId"]
			if id == "" {
				return "", fmt.Errorf("no conversation for contact %s", members[0])
			}
			return id, nil
		}
		id, err := n.StartConversation(accountID)
		if err != nil {
			return "", err
		}
		for _, m := range members {
			if err := n.AddConversationMember(accountID, id, m); err != nil {
				return id, err
			}
		}
		return id, nil
	})
	if err != nil {
		return Conversation{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.ensureLocked(accountID, convID)
	if c.mode == bridge.ModeSyncing {
		if len(members) == 1 {
			c.mode = bridge.ModeOneToOne
		} else {
			c.mode = bridge.ModeInvitesOnly
		}
		c.setMembers(append([]string{self}, members...), self)
		c.created(time.Now())
		a.persistConversation(c)
		a.publishLocked(c)
	}
	return c.snapshot(a.convTitle(c)), nil
}

func (a *Assembler) findOneToOne(accountID, uri string) (Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[accountID]
	if st == nil {
		return Conversation{}, false
	}
	for _, c := range st.convs {
		if c.mode == bridge.ModeOneToOne && c.contactURI == uri {
			return c.snapshot(a.convTitle(c)), true
		}
	}
	return Conversation{}, false
}

// SendText appends an outgoing message with status Sending before the
// daemon is asked to send it. The interaction is re-keyed to the daemon's
// id as soon as the call returns.
func (a *Assembler) SendText(ctx context.Context, accountID, conversationID, text, replyTo string) (Interaction, error) {
	self := a.selfURI(accountID)
	now := time.Now()
	tmpID := localID(now)

	a.mu.Lock()
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		a.mu.Unlock()
		return Interaction{}, fmt.Errorf("send to %s: %w", conversationID, ErrUnknownConversation)
	}
	c.append(Interaction{
		ID:        tmpID,
		Kind:      KindText,
		Author:    self,
		Body:      text,
		ReplyTo:   replyTo,
		Status:    StatusSending,
		Timestamp: now,
	})
	a.publishLocked(c)
	a.mu.Unlock()

	// The message is already listed, so the send outlives the caller's ctx.
	fut := bridge.Submit(context.WithoutCancel(ctx), a.bridge, "sendMessage", func(n bridge.Native) (Interaction, error) {
		id, err := n.SendMessage(accountID, conversationID, text, replyTo, 0)
		a.mu.Lock()
		defer a.mu.Unlock()
		c := a.convLocked(accountID, conversationID)
		if c == nil {
			return Interaction{}, err
		}
		if err != nil {
			p := c.items[tmpID]
			if p == nil {
				return Interaction{}, err
			}
			p.Status, _ = advance(p.Status, StatusFailed)
			a.persistInteraction(c, *p)
			a.publishLocked(c)
			return *p, err
		}
		p := c.rekey(tmpID, id)
		if p == nil {
			return Interaction{}, nil
		}
		a.persistInteraction(c, *p)
		a.publishLocked(c)
		return *p, nil
	})
	sent, err := fut.Wait(ctx)
	if errors.Is(err, bridge.ErrClosed) {
		sent = a.failPending(accountID, conversationID, tmpID)
	}
	if err != nil {
		a.logger.Warn("send message failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return sent, err
}

// failPending marks a local interaction that never reached the daemon as
// failed.
func (a *Assembler) failPending(accountID, conversationID, id string) Interaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(accountID, conversationID)
	if c == nil || c.items[id] == nil {
		return Interaction{}
	}
	p := c.items[id]
	p.Status, _ = advance(p.Status, StatusFailed)
	a.persistInteraction(c, *p)
	a.publishLocked(c)
	return *p
}

// SetMessageDisplayed tells the daemon an incoming message was shown.
func (a *Assembler) SetMessageDisplayed(ctx context.Context, accountID, conversationID, messageID string) error {
	return a.bridge.Exec(ctx, "setMessageDisplayed", func(n bridge.Native) error {
		return n.SetMessageDisplayed(accountID, "swarm:"+conversationID, messageID, int(bridge.MessageDisplayed))
	})
}

// claimRequest marks a request as being resolved. It returns nil when there
// is nothing left to resolve.
func (a *Assembler) claimRequest(accountID, from string) *request {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[accountID]
	if st == nil {
		return nil
	}
	r := st.requests[from]
	if r == nil || r.resolving {
		return nil
	}
	r.resolving = true
	copied := *r
	return &copied
}

func (a *Assembler) releaseRequest(accountID, from string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.states[accountID]; st != nil {
		if r := st.requests[from]; r != nil {
			r.resolving = false
		}
	}
}

// finishRequest removes a resolved request, durable copy first.
func (a *Assembler) finishRequest(ctx context.Context, accountID, from string, accepted bool) error {
	if a.queue != nil {
		if err := a.queue.Flush(ctx); err != nil {
			return err
		}
	}
	if a.db != nil {
		if err := a.db.DeleteTrustRequest(accountID, from); err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
	}
	a.mu.Lock()
	if st := a.states[accountID]; st != nil {
		// An accepted request may already be gone, replaced by its
		// conversation.
		a.removeRequestLocked(st, from)
	}
	a.mu.Unlock()
	a.notify(bus.KindRequestResolved, ResolvedNotification{AccountID: accountID, From: from, Accepted: accepted})
	return nil
}

// AcceptRequest accepts the pending request from a sender. Accepting a
// request that is already resolved succeeds without doing anything.
func (a *Assembler) AcceptRequest(ctx context.Context, accountID, from string) error {
	r := a.claimRequest(accountID, from)
	if r == nil {
		return nil
	}
	err := a.bridge.Exec(ctx, "acceptRequest", func(n bridge.Native) error {
		if r.mode == bridge.ModeOneToOne || r.conversationID == "" {
			return n.AcceptTrustRequest(accountID, from)
		}
		return n.AcceptConversationRequest(accountID, r.conversationID)
	})
	if err != nil {
		a.releaseRequest(accountID, from)
		return err
	}
	return a.finishRequest(ctx, accountID, from, true)
}

// DiscardRequest declines the pending request from a sender. Discarding a
// request that is already resolved succeeds without doing anything.
func (a *Assembler) DiscardRequest(ctx context.Context, accountID, from string) error {
	r := a.claimRequest(accountID, from)
	if r == nil {
		return nil
	}
	err := a.bridge.Exec(ctx, "discardRequest", func(n bridge.Native) error {
		if r.mode == bridge.ModeOneToOne || r.conversationID == "" {
			return n.DiscardTrustRequest(accountID, from)
		}
		return n.DeclineConversationRequest(accountID, r.conversationID)
	})
	if err != nil {
		a.releaseRequest(accountID, from)
		return err
	}
	return a.finishRequest(ctx, accountID, from, false)
}

// durable flushes queued writes and runs fn against the store, so memory is
// only changed after the store agreed.
func (a *Assembler) durable(ctx context.Context, fn func(*store.DB) error) error {
	if a.queue != nil {
		if err := a.queue.Flush(ctx); err != nil {
			return err
		}
	}
	if a.db == nil {
		return nil
	}
	return fn(a.db)
}

// DeleteInteraction removes one item from a conversation.
func (a *Assembler) DeleteInteraction(ctx context.Context, accountID, conversationID, interactionID string) error {
	if err := a.durable(ctx, func(db *store.DB) error {
		return db.DeleteInteraction(accountID, conversationID, interactionID)
	}); err != nil {
		return fmt.Errorf("delete interaction: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		return nil
	}
	if p := c.items[interactionID]; p != nil {
		delete(c.items, interactionID)
		if p.FileID != "" {
			delete(c.byFile, p.FileID)
		}
		a.publishLocked(c)
	}
	return nil
}

// RemoveConversation leaves a conversation and forgets it.
func (a *Assembler) RemoveConversation(ctx context.Context, accountID, conversationID string) error {
	if err := a.bridge.Exec(ctx, "removeConversation", func(n bridge.Native) error {
		return n.RemoveConversation(accountID, conversationID)
	}); err != nil {
		return err
	}
	return a.forget(ctx, accountID, conversationID)
}

// BanConversation bans the peer of a one-to-one conversation, or leaves a
// group conversation, and forgets it.
func (a *Assembler) BanConversation(ctx context.Context, accountID, conversationID string) error {
	a.mu.Lock()
	c := a.convLocked(accountID, conversationID)
	var peer string
	var oneToOne bool
	if c != nil {
		peer, oneToOne = c.contactURI, c.mode == bridge.ModeOneToOne
	}
	a.mu.Unlock()
	if c == nil {
		return fmt.Errorf("ban %s: %w", conversationID, ErrUnknownConversation)
	}
	if err := a.bridge.Exec(ctx, "banConversation", func(n bridge.Native) error {
		if oneToOne && peer != "" {
			return n.RemoveContact(accountID, peer, true)
		}
		return n.RemoveConversation(accountID, conversationID)
	}); err != nil {
		return err
	}
	return a.forget(ctx, accountID, conversationID)
}

func (a *Assembler) forget(ctx context.Context, accountID, conversationID string) error {
	if err := a.durable(ctx, func(db *store.DB) error {
		return db.DeleteConversation(accountID, conversationID)
	}); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	a.mu.Lock()
	a.removeConvLocked(accountID, conversationID)
	a.mu.Unlock()
	return nil
}

// ClearHistory drops messages, calls and transfers of a conversation while
// keeping membership events.
func (a *Assembler) ClearHistory(ctx context.Context, accountID, conversationID string) error {
	if err := a.durable(ctx, func(db *store.DB) error {
		return db.ClearHistory(accountID, conversationID)
	}); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		return nil
	}
	for id, p := range c.items {
		if p.Kind != KindContact {
			delete(c.items, id)
			if p.FileID != "" {
				delete(c.byFile, p.FileID)
			}
		}
	}
	a.publishLocked(c)
	return nil
}
