package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the interaction store.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// OpenMigrated opens path and brings its schema up to date.
func OpenMigrated(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Stats holds row counts for the inspector.
type Stats struct {
	Conversations int64
	Interactions  int64
	Contacts      int64
	TrustRequests int64
}

// Stats counts the rows stored for accountID.
func (db *DB) Stats(accountID string) (Stats, error) {
	var s Stats
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE account_id = ?),
			(SELECT COUNT(*) FROM interactions WHERE account_id = ?),
			(SELECT COUNT(*) FROM contacts WHERE account_id = ?),
			(SELECT COUNT(*) FROM trust_requests WHERE account_id = ?)`,
		accountID, accountID, accountID, accountID).
		Scan(&s.Conversations, &s.Interactions, &s.Contacts, &s.TrustRequests)
	return s, err
}

// DeleteAccount removes every row owned by accountID.
func (db *DB) DeleteAccount(accountID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"interactions", "conversation_members", "conversations", "contacts", "trust_requests"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM sync_state WHERE key LIKE ? ESCAPE '\'`, escapeLike(accountID)+"/%"); err != nil {
		return fmt.Errorf("delete sync_state: %w", err)
	}
	return tx.Commit()
}
