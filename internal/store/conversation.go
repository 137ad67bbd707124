package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertConversationSQL = `
	INSERT INTO conversations (account_id, conversation_id, mode, contact_uri, last_activity, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, conversation_id) DO UPDATE SET
		mode = CASE WHEN excluded.mode != '' THEN excluded.mode ELSE conversations.mode END,
		contact_uri = CASE WHEN excluded.contact_uri != '' THEN excluded.contact_uri ELSE conversations.contact_uri END,
		last_activity = MAX(conversations.last_activity, excluded.last_activity),
		updated_at = excluded.updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertConversation(ex execer, c *Conversation) error {
	now := time.Now().UnixMilli()
	if _, err := ex.Exec(upsertConversationSQL,
		c.AccountID, c.ConversationID, c.Mode, c.ContactURI, c.LastActivity, now); err != nil {
		return fmt.Errorf("upsert conversation %q: %w", c.ConversationID, err)
	}
	if c.Members == nil {
		return nil
	}
	if _, err := ex.Exec(`DELETE FROM conversation_members WHERE account_id = ? AND conversation_id = ?`,
		c.AccountID, c.ConversationID); err != nil {
		return fmt.Errorf("reset members: %w", err)
	}
	for _, uri := range c.Members {
		if _, err := ex.Exec(`INSERT OR IGNORE INTO conversation_members (account_id, conversation_id, uri) VALUES (?, ?, ?)`,
			c.AccountID, c.ConversationID, uri); err != nil {
			return fmt.Errorf("insert member %q: %w", uri, err)
		}
	}
	return nil
}

// UpsertConversation inserts or updates a conversation row. A nil Members
// slice leaves stored members untouched; last_activity never moves backward.
func (db *DB) UpsertConversation(c *Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertConversation(tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// GetConversation returns one conversation, or nil when absent.
func (db *DB) GetConversation(accountID, conversationID string) (*Conversation, error) {
	c := Conversation{AccountID: accountID, ConversationID: conversationID}
	err := db.QueryRow(`
		SELECT mode, contact_uri, last_activity FROM conversations
		WHERE account_id = ? AND conversation_id = ?`, accountID, conversationID).
		Scan(&c.Mode, &c.ContactURI, &c.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Members, err = db.members(accountID, conversationID); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns an account's conversations, most recent first.
func (db *DB) ListConversations(accountID string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT conversation_id, mode, contact_uri, last_activity FROM conversations
		WHERE account_id = ?
		ORDER BY last_activity DESC`, accountID)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	for rows.Next() {
		c := Conversation{AccountID: accountID}
		if err := rows.Scan(&c.ConversationID, &c.Mode, &c.ContactURI, &c.LastActivity); err != nil {
			_ = rows.Close()
			return nil, err
		}
		convs = append(convs, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].Members, err = db.members(accountID, convs[i].ConversationID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (db *DB) members(accountID, conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT uri FROM conversation_members
		WHERE account_id = ? AND conversation_id = ?
		ORDER BY uri`, accountID, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	members := []string{}
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		members = append(members, uri)
	}
	return members, rows.Err()
}

// DeleteConversation removes a conversation and its interactions. Missing
// rows are not an error.
func (db *DB) DeleteConversation(accountID, conversationID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"interactions", "conversation_members", "conversations"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE account_id = ? AND conversation_id = ?`,
			accountID, conversationID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ClearHistory drops a conversation's messages, calls and transfers while
// keeping contact events.
func (db *DB) ClearHistory(accountID, conversationID string) error {
	_, err := db.Exec(`
		DELETE FROM interactions
		WHERE account_id = ? AND conversation_id = ? AND kind != ?`,
		accountID, conversationID, KindContact)
	return err
}

// Smartlist returns every conversation of accountID with only its newest
// interaction, ordered by last activity.
func (db *DB) Smartlist(accountID string) ([]SmartlistRow, error) {
	rows, err := db.Query(`
		SELECT c.conversation_id, c.mode, c.contact_uri, c.last_activity,
			i.interaction_id, i.seq, i.kind, i.author, i.body, i.status, i.incoming, i.timestamp,
			i.file_id, i.file_path, i.total_size, i.bytes_transferred, i.duration_ms
		FROM conversations c
		LEFT JOIN interactions i ON i.rowid = (
			SELECT rowid FROM interactions
			WHERE account_id = c.account_id AND conversation_id = c.conversation_id
			ORDER BY seq DESC, timestamp DESC LIMIT 1)
		WHERE c.account_id = ?
		ORDER BY c.last_activity DESC`, accountID)
	if err != nil {
		return nil, err
	}
	var out []SmartlistRow
	for rows.Next() {
		var (
			r                                            SmartlistRow
			last                                         Interaction
			id, kind, author, body, status, fileID, filePath sql.NullString
			seq, ts, total, done, dur                    sql.NullInt64
			incoming                                     sql.NullBool
		)
		r.Conversation.AccountID = accountID
		if err := rows.Scan(&r.Conversation.ConversationID, &r.Conversation.Mode, &r.Conversation.ContactURI,
			&r.Conversation.LastActivity, &id, &seq, &kind, &author, &body, &status, &incoming, &ts,
			&fileID, &filePath, &total, &done, &dur); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if id.Valid {
			last = Interaction{
				AccountID:        accountID,
				ConversationID:   r.Conversation.ConversationID,
				InteractionID:    id.String,
				Seq:              seq.Int64,
				Kind:             kind.String,
				Author:           author.String,
				Body:             body.String,
				Status:           status.String,
				Incoming:         incoming.Bool,
				Timestamp:        ts.Int64,
				FileID:           fileID.String,
				FilePath:         filePath.String,
				TotalSize:        total.Int64,
				BytesTransferred: done.Int64,
				DurationMS:       dur.Int64,
			}
			r.Last = &last
		}
		out = append(out, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Conversation.Members, err = db.members(accountID, out[i].Conversation.ConversationID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
