package sync

import (
	"strconv"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
)

const refreshedKey = "accounts.refreshed_at"

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

func notifiedKey(accountID, conversationID string) string {
	return "notified/" + accountID + "/" + conversationID
}

// MarkNotified records the last message of a conversation a notification
// was raised for.
func (r *Reconciler) MarkNotified(accountID, conversationID, interactionID string) error {
	return r.db.SetCheckpoint(notifiedKey(accountID, conversationID), interactionID)
}

// LastNotified returns the last notified message of a conversation, or ""
// when none was.
func (r *Reconciler) LastNotified(accountID, conversationID string) (string, error) {
	return r.db.Checkpoint(notifiedKey(accountID, conversationID))
}

// MarkRefreshed records a completed account refresh.
func (r *Reconciler) MarkRefreshed(t time.Time) error {
	return r.db.SetCheckpoint(refreshedKey, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastRefresh returns when accounts were last refreshed, or the zero time.
func (r *Reconciler) LastRefresh() (time.Time, error) {
	ms, err := r.db.CheckpointInt(refreshedKey)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
