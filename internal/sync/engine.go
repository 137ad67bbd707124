// Package sync drives the caches from the daemon: it is the single consumer
// of decoded bridge events and keeps the sync checkpoints.
package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/account"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/contact"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/conversation"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/status"
	"go.uber.org/zap"
)

// Engine routes daemon events into the account cache, the contact resolver
// and the conversation assembler, in that order, and tracks notification
// checkpoints.
type Engine struct {
	bridge        *bridge.Bridge
	accounts      *account.Cache
	contacts      *contact.Resolver
	conversations *conversation.Assembler
	reconciler    *Reconciler
	machine       *status.Machine
	bus           *bus.Bus
	logger        *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	routed atomic.Uint64
}

// NewEngine creates a new sync engine. The resolver and the assembler are
// registered as account dependents so they load and purge with accounts.
func NewEngine(b *bridge.Bridge, accounts *account.Cache, contacts *contact.Resolver,
	conversations *conversation.Assembler, r *Reconciler, m *status.Machine, eb *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	accounts.AddDependent(contacts)
	accounts.AddDependent(conversations)
	return &Engine{
		bridge:        b,
		accounts:      accounts,
		contacts:      contacts,
		conversations: conversations,
		reconciler:    r,
		machine:       m,
		bus:           eb,
		logger:        logger,
	}
}

// Start attaches to the bridge and loads every account. A failed load
// leaves the engine running in the degraded state.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("notify.", 256)
	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				e.handleNotification(evt)
			case <-runCtx.Done():
				return
			}
		}
	}()

	e.bridge.AddEventHandler(e.route)
	e.transition(status.Loading)
	if err := e.accounts.Refresh(ctx, true); err != nil {
		e.logger.Error("initial account load failed", zap.Error(err))
		e.transition(status.Degraded)
		return
	}
	if err := e.reconciler.MarkRefreshed(time.Now()); err != nil {
		e.logger.Warn("failed to record refresh", zap.Error(err))
	}
	e.transition(status.Ready)
}

// Reload refreshes accounts again, for example after the daemon restarted.
func (e *Engine) Reload(ctx context.Context) error {
	e.transition(status.Loading)
	if err := e.accounts.Refresh(ctx, true); err != nil {
		e.transition(status.Degraded)
		return err
	}
	if err := e.reconciler.MarkRefreshed(time.Now()); err != nil {
		e.logger.Warn("failed to record refresh", zap.Error(err))
	}
	e.transition(status.Ready)
	return nil
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.transition(status.Stopping)
	e.cancel()
	<-e.done
	e.accounts.Wait()
	e.contacts.Wait()
	e.transition(status.Stopped)
}

// Routed reports how many daemon events were dispatched.
func (e *Engine) Routed() uint64 { return e.routed.Load() }

func (e *Engine) route(ev bridge.Event) {
	e.routed.Add(1)
	e.accounts.HandleEvent(ev)
	e.contacts.HandleEvent(ev)
	e.conversations.HandleEvent(ev)
}

func (e *Engine) handleNotification(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case conversation.MessageNotification:
		if err := e.reconciler.MarkNotified(p.AccountID, p.ConversationID, p.InteractionID); err != nil {
			e.logger.Error("failed to record notified message", zap.Error(err),
				zap.String("conversation_id", p.ConversationID), zap.String("interaction_id", p.InteractionID))
		}
	case conversation.RequestNotification:
		e.logger.Info("trust request received", zap.String("account_id", p.AccountID), zap.String("uri", p.From))
	}
}

func (e *Engine) transition(to status.State) {
	if e.machine == nil {
		return
	}
	if err := e.machine.Transition(to); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}
