package store

import (
	"database/sql"
	"strconv"
)

// SetCheckpoint stores an opaque value under key.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Checkpoint returns the value under key, or "" when unset.
func (db *DB) Checkpoint(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// CheckpointInt is Checkpoint parsed as an integer; unset or malformed yields 0.
func (db *DB) CheckpointInt(key string) (int64, error) {
	v, err := db.Checkpoint(key)
	if err != nil || v == "" {
		return 0, err
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}
