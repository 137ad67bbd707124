package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"go.uber.org/zap"
)

type transferKey struct {
	accountID      string
	conversationID string
	interactionID  string
}

// transferWatch backs ObserveTransfer. Its fields are guarded by the
// assembler lock.
type transferWatch struct {
	key     transferKey
	fileID  string
	subject *bus.Subject[Interaction]
	stop    chan struct{}
	closed  bool
}

func (w *transferWatch) stopTimer() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *transferWatch) close() {
	w.stopTimer()
	w.closed = true
	w.subject.Close()
}

// startTimerLocked polls the daemon for progress until the watch is stopped.
func (a *Assembler) startTimerLocked(w *transferWatch) {
	if w.stop != nil || w.closed {
		return
	}
	stop := make(chan struct{})
	w.stop = stop
	go func() {
		t := time.NewTicker(a.opts.RefreshPeriod)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				a.refreshTransfer(w.key, w.fileID)
			}
		}
	}()
}

func (a *Assembler) refreshTransfer(key transferKey, fileID string) {
	a.bridge.Post("fileTransferInfo", func(n bridge.Native) {
		path, total, progress, err := n.FileTransferInfo(key.accountID, key.conversationID, fileID)
		if err != nil {
			a.logger.Debug("transfer refresh failed", zap.String("interaction_id", key.interactionID), zap.Error(err))
			return
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		c := a.convLocked(key.accountID, key.conversationID)
		if c == nil {
			return
		}
		p := c.items[key.interactionID]
		if p == nil || p.Status.Terminal() {
			return
		}
		if progress <= p.BytesTransferred && total == p.TotalSize {
			return
		}
		p.BytesTransferred = max(p.BytesTransferred, progress)
		if total > 0 {
			p.TotalSize = total
		}
		if path != "" {
			p.FilePath = path
		}
		if w := a.transfers[key]; w != nil {
			w.subject.Publish(*p)
		}
		a.publishLocked(c)
	})
}

// applyTransfer folds a transfer event into its interaction. Events that
// name only the file are matched through it.
func (a *Assembler) applyTransfer(e bridge.DataTransferEvent) {
	a.mu.Lock()
	c := a.convLocked(e.AccountID, e.ConversationID)
	if c == nil {
		a.mu.Unlock()
		return
	}
	p := c.byTransfer(e.InteractionID, e.FileID)
	if p == nil || p.Kind != KindTransfer {
		a.mu.Unlock()
		a.logger.Debug("transfer event for unknown interaction",
			zap.String("conversation_id", e.ConversationID), zap.String("interaction_id", e.InteractionID))
		return
	}

	next, statusChanged := advance(p.Status, statusFromTransfer(e.Code))
	changed := statusChanged
	p.Status = next
	if e.Path != "" && e.Path != p.FilePath {
		p.FilePath, changed = e.Path, true
	}
	if e.Total > 0 && e.Total != p.TotalSize {
		p.TotalSize, changed = e.Total, true
	}
	if e.Progress > p.BytesTransferred {
		p.BytesTransferred, changed = e.Progress, true
	}
	if p.Status == StatusTransferFinished && p.BytesTransferred < p.TotalSize {
		p.BytesTransferred, changed = p.TotalSize, true
	}
	if !changed {
		a.mu.Unlock()
		return
	}
	saved := *p
	a.persistUpdate(e.AccountID, saved)
	a.publishLocked(c)
	if w := a.transfers[transferKey{e.AccountID, e.ConversationID, saved.ID}]; w != nil {
		w.subject.Publish(saved)
		switch {
		case saved.Status.Terminal():
			w.stopTimer()
		case saved.Status == StatusTransferOngoing && w.subject.Subscribers() > 0:
			a.startTimerLocked(w)
		}
	}
	autoAccept := statusChanged && saved.Incoming && saved.Status == StatusTransferAwaitingHost &&
		a.prefs != nil && saved.TotalSize > 0 && saved.TotalSize <= a.prefs.MaxAutoAcceptSize()
	a.mu.Unlock()

	if statusChanged {
		a.notify(bus.KindTransfer, TransferNotification{
			AccountID:        e.AccountID,
			ConversationID:   e.ConversationID,
			InteractionID:    saved.ID,
			Status:           saved.Status,
			BytesTransferred: saved.BytesTransferred,
			TotalSize:        saved.TotalSize,
		})
	}
	if autoAccept {
		path, err := a.downloadPath(e.AccountID, saved)
		if err != nil {
			a.logger.Warn("auto accept transfer", zap.String("interaction_id", saved.ID), zap.Error(err))
			return
		}
		a.logger.Debug("auto accepting transfer", zap.String("interaction_id", saved.ID), zap.Int64("size", saved.TotalSize))
		a.bridge.Post("downloadFile", func(n bridge.Native) {
			if err := n.DownloadFile(e.AccountID, e.ConversationID, saved.ID, saved.FileID, path); err != nil {
				a.logger.Warn("auto accept transfer", zap.String("interaction_id", saved.ID), zap.Error(err))
			}
		})
	}
}

// downloadPath returns where an incoming file is written, creating the
// account's transfer directory.
func (a *Assembler) downloadPath(accountID string, i Interaction) (string, error) {
	dir := a.opts.TransferDir
	if dir == "" {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, accountID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	name := filepath.Base(strings.ReplaceAll(i.FileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return filepath.Join(dir, i.FileID+"_"+name), nil
}

func (a *Assembler) transferLocked(accountID, conversationID, interactionID string) (*Interaction, error) {
	c := a.convLocked(accountID, conversationID)
	if c == nil {
		return nil, fmt.Errorf("transfer in %s: %w", conversationID, ErrUnknownConversation)
	}
	p := c.items[interactionID]
	if p == nil {
		return nil, fmt.Errorf("transfer %s: %w", interactionID, ErrUnknownInteraction)
	}
	if p.Kind != KindTransfer {
		return nil, fmt.Errorf("transfer %s: %w", interactionID, ErrNotTransfer)
	}
	return p, nil
}

// ObserveTransfer streams one transfer, current value first. While it has
// observers and the transfer is ongoing, progress is polled from the daemon.
func (a *Assembler) ObserveTransfer(accountID, conversationID, interactionID string) (<-chan Interaction, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.transferLocked(accountID, conversationID, interactionID)
	if err != nil {
		return nil, nil, err
	}
	key := transferKey{accountID, conversationID, interactionID}
	w := a.transfers[key]
	if w == nil {
		w = &transferWatch{key: key, fileID: p.FileID, subject: bus.NewSubjectWith(*p)}
		w.subject.OnIdle(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			// A new observer may have subscribed before the lock was taken.
			if w.subject.Subscribers() > 0 {
				return
			}
			w.stopTimer()
			if a.transfers[key] == w {
				delete(a.transfers, key)
			}
		})
		a.transfers[key] = w
	}
	ch, cancel := w.subject.Subscribe()
	if p.Status == StatusTransferOngoing {
		a.startTimerLocked(w)
	}
	return ch, cancel, nil
}

// watched reports whether a transfer has a live watch.
func (a *Assembler) watched(accountID, conversationID, interactionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transfers[transferKey{accountID, conversationID, interactionID}] != nil
}

// refreshing reports whether a transfer's progress is being polled.
func (a *Assembler) refreshing(accountID, conversationID, interactionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.transfers[transferKey{accountID, conversationID, interactionID}]
	return w != nil && w.stop != nil
}

// SendFile shares a local file in a conversation. The interaction appears
// once the daemon announces it.
func (a *Assembler) SendFile(ctx context.Context, accountID, conversationID, path, displayName string) error {
	a.mu.Lock()
	known := a.convLocked(accountID, conversationID) != nil
	a.mu.Unlock()
	if !known {
		return fmt.Errorf("send file to %s: %w", conversationID, ErrUnknownConversation)
	}
	if displayName == "" {
		displayName = filepath.Base(path)
	}
	return a.bridge.Exec(ctx, "sendFile", func(n bridge.Native) error {
		return n.SendFile(accountID, conversationID, path, displayName, "")
	})
}

// AcceptFileTransfer downloads an incoming file into the transfer
// directory.
func (a *Assembler) AcceptFileTransfer(ctx context.Context, accountID, conversationID, interactionID string) error {
	a.mu.Lock()
	p, err := a.transferLocked(accountID, conversationID, interactionID)
	var i Interaction
	if p != nil {
		i = *p
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if i.Status.Terminal() {
		return nil
	}
	path, err := a.downloadPath(accountID, i)
	if err != nil {
		return fmt.Errorf("accept transfer: %w", err)
	}
	return a.bridge.Exec(ctx, "downloadFile", func(n bridge.Native) error {
		return n.DownloadFile(accountID, conversationID, i.ID, i.FileID, path)
	})
}

// CancelDataTransfer stops a transfer in either direction.
func (a *Assembler) CancelDataTransfer(ctx context.Context, accountID, conversationID, interactionID string) error {
	a.mu.Lock()
	p, err := a.transferLocked(accountID, conversationID, interactionID)
	var fileID string
	if p != nil {
		fileID = p.FileID
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.bridge.Exec(ctx, "cancelDataTransfer", func(n bridge.Native) error {
		return n.CancelDataTransfer(accountID, conversationID, fileID)
	})
}
