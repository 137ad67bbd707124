package store

import (
	"fmt"
)

const interactionColumns = `interaction_id, seq, kind, author, body, status, incoming, timestamp,
	file_id, file_path, total_size, bytes_transferred, duration_ms`

// InsertInteraction stores i, creating the parent conversation row first when
// absent. Both writes share one transaction. Re-inserting an existing id
// updates it in place.
func (db *DB) InsertInteraction(c *Conversation, i *Interaction) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	conv := *c
	if i.Timestamp > conv.LastActivity {
		conv.LastActivity = i.Timestamp
	}
	if err := upsertConversation(tx, &conv); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO interactions (account_id, conversation_id, `+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, conversation_id, interaction_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			file_path = excluded.file_path,
			total_size = excluded.total_size,
			bytes_transferred = excluded.bytes_transferred,
			duration_ms = excluded.duration_ms`,
		c.AccountID, c.ConversationID, i.InteractionID, i.Seq, i.Kind, i.Author, i.Body, i.Status,
		i.Incoming, i.Timestamp, i.FileID, i.FilePath, i.TotalSize, i.BytesTransferred, i.DurationMS); err != nil {
		return fmt.Errorf("insert interaction %q: %w", i.InteractionID, err)
	}
	return tx.Commit()
}

// UpdateInteraction rewrites the mutable fields of i. A missing row is a no-op.
func (db *DB) UpdateInteraction(i *Interaction) error {
	_, err := db.Exec(`
		UPDATE interactions SET
			body = ?, status = ?, file_path = ?, total_size = ?, bytes_transferred = ?, duration_ms = ?
		WHERE account_id = ? AND conversation_id = ? AND interaction_id = ?`,
		i.Body, i.Status, i.FilePath, i.TotalSize, i.BytesTransferred, i.DurationMS,
		i.AccountID, i.ConversationID, i.InteractionID)
	return err
}

// RenameInteraction moves a locally generated id to the daemon-assigned one.
// A missing row is a no-op.
func (db *DB) RenameInteraction(accountID, conversationID, oldID, newID string) error {
	_, err := db.Exec(`
		UPDATE OR REPLACE interactions SET interaction_id = ?
		WHERE account_id = ? AND conversation_id = ? AND interaction_id = ?`,
		newID, accountID, conversationID, oldID)
	return err
}

// DeleteInteraction removes one interaction. A missing row is a no-op.
func (db *DB) DeleteInteraction(accountID, conversationID, interactionID string) error {
	_, err := db.Exec(`
		DELETE FROM interactions
		WHERE account_id = ? AND conversation_id = ? AND interaction_id = ?`,
		accountID, conversationID, interactionID)
	return err
}

// GetInteraction returns one interaction, or nil when absent.
func (db *DB) GetInteraction(accountID, conversationID, interactionID string) (*Interaction, error) {
	list, err := db.queryInteractions(accountID, conversationID, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE account_id = ? AND conversation_id = ? AND interaction_id = ?`,
		accountID, conversationID, interactionID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListInteractions returns up to limit interactions with seq below beforeSeq,
// newest first. beforeSeq <= 0 starts from the newest.
func (db *DB) ListInteractions(accountID, conversationID string, beforeSeq int64, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + interactionColumns + ` FROM interactions
		WHERE account_id = ? AND conversation_id = ?`
	args := []any{accountID, conversationID}
	if beforeSeq > 0 {
		q += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	return db.queryInteractions(accountID, conversationID, q, args...)
}

// ListInteractionsByTime returns interactions with from <= timestamp < to in
// ascending time order.
func (db *DB) ListInteractionsByTime(accountID, conversationID string, from, to int64) ([]Interaction, error) {
	return db.queryInteractions(accountID, conversationID, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE account_id = ? AND conversation_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, seq ASC`,
		accountID, conversationID, from, to)
}

func (db *DB) queryInteractions(accountID, conversationID, q string, args ...any) ([]Interaction, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Interaction
	for rows.Next() {
		i := Interaction{AccountID: accountID, ConversationID: conversationID}
		if err := rows.Scan(&i.InteractionID, &i.Seq, &i.Kind, &i.Author, &i.Body, &i.Status, &i.Incoming,
			&i.Timestamp, &i.FileID, &i.FilePath, &i.TotalSize, &i.BytesTransferred, &i.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
