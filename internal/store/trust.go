package store

// UpsertTrustRequest records a pending request; one row per (account, sender).
func (db *DB) UpsertTrustRequest(r *TrustRequest) error {
	_, err := db.Exec(`
		INSERT INTO trust_requests (account_id, from_uri, conversation_id, display_name, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, from_uri) DO UPDATE SET
			conversation_id = CASE WHEN excluded.conversation_id != '' THEN excluded.conversation_id ELSE trust_requests.conversation_id END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE trust_requests.display_name END,
			received_at = MAX(trust_requests.received_at, excluded.received_at)`,
		r.AccountID, r.FromURI, r.ConversationID, r.DisplayName, r.ReceivedAt)
	return err
}

// DeleteTrustRequest removes a request. A missing row is a no-op.
func (db *DB) DeleteTrustRequest(accountID, fromURI string) error {
	_, err := db.Exec(`DELETE FROM trust_requests WHERE account_id = ? AND from_uri = ?`, accountID, fromURI)
	return err
}

// ListTrustRequests returns pending requests, newest first.
func (db *DB) ListTrustRequests(accountID string) ([]TrustRequest, error) {
	rows, err := db.Query(`
		SELECT from_uri, conversation_id, display_name, received_at
		FROM trust_requests WHERE account_id = ?
		ORDER BY received_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TrustRequest
	for rows.Next() {
		r := TrustRequest{AccountID: accountID}
		if err := rows.Scan(&r.FromURI, &r.ConversationID, &r.DisplayName, &r.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
