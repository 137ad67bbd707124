package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates a contact. Empty names never overwrite
// stored ones.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (account_id, uri, display_name, registered_name, added_at, confirmed, banned, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, uri) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			registered_name = CASE WHEN excluded.registered_name != '' THEN excluded.registered_name ELSE contacts.registered_name END,
			added_at = CASE WHEN excluded.added_at != 0 THEN excluded.added_at ELSE contacts.added_at END,
			confirmed = excluded.confirmed,
			banned = excluded.banned,
			updated_at = excluded.updated_at`,
		c.AccountID, c.URI, c.DisplayName, c.RegisteredName, c.AddedAt, c.Confirmed, c.Banned, now)
	return err
}

// GetContact returns a contact, or nil when absent.
func (db *DB) GetContact(accountID, uri string) (*Contact, error) {
	c := Contact{AccountID: accountID, URI: uri}
	err := db.QueryRow(`
		SELECT display_name, registered_name, added_at, confirmed, banned
		FROM contacts WHERE account_id = ? AND uri = ?`, accountID, uri).
		Scan(&c.DisplayName, &c.RegisteredName, &c.AddedAt, &c.Confirmed, &c.Banned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns every contact cached for an account.
func (db *DB) ListContacts(accountID string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT uri, display_name, registered_name, added_at, confirmed, banned
		FROM contacts WHERE account_id = ? ORDER BY uri`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		c := Contact{AccountID: accountID}
		if err := rows.Scan(&c.URI, &c.DisplayName, &c.RegisteredName, &c.AddedAt, &c.Confirmed, &c.Banned); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact row. A missing row is a no-op.
func (db *DB) DeleteContact(accountID, uri string) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE account_id = ? AND uri = ?`, accountID, uri)
	return err
}
