package store

import "strings"

// SearchResult holds a matching interaction.
type SearchResult struct {
	Interaction Interaction
	Snippet     string
}

// SearchInteractions finds text interactions of an account whose body
// contains query, newest first.
func (db *DB) SearchInteractions(accountID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT conversation_id, `+interactionColumns+`
		FROM interactions
		WHERE account_id = ? AND kind = ? AND body LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC
		LIMIT ?`, accountID, KindText, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		i := Interaction{AccountID: accountID}
		if err := rows.Scan(&i.ConversationID, &i.InteractionID, &i.Seq, &i.Kind, &i.Author, &i.Body, &i.Status,
			&i.Incoming, &i.Timestamp, &i.FileID, &i.FilePath, &i.TotalSize, &i.BytesTransferred, &i.DurationMS); err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Interaction: i, Snippet: snippet(i.Body, query, 32)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// snippet returns up to width runes of context on each side of the first
// case-insensitive match, with the match wrapped in << >>.
func snippet(body, query string, width int) string {
	hay, needle := strings.ToLower(body), strings.ToLower(query)
	if len(hay) != len(body) {
		hay, needle = body, query
	}
	idx := strings.Index(hay, needle)
	if idx < 0 || query == "" {
		return body
	}
	start, end := idx, idx+len(query)
	from := max(0, start-width)
	to := min(len(body), end+width)
	s := body[from:start] + "<<" + body[start:end] + ">>" + body[end:to]
	if from > 0 {
		s = "..." + s
	}
	if to < len(body) {
		s += "..."
	}
	return s
}
