package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	"go.uber.org/zap"
)

// Search builds a throwaway list for a text query from known contacts,
// conversation titles and one name server lookup. Nothing it finds is
// added to the smart list or cached.
func (a *Assembler) Search(ctx context.Context, accountID, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	needle := strings.ToLower(query)
	matches := func(s string) bool { return s != "" && strings.Contains(strings.ToLower(s), needle) }

	seen := make(map[string]bool)
	var out []Item

	a.mu.Lock()
	byPeer := make(map[string]Item)
	if st := a.states[accountID]; st != nil {
		for _, c := range st.convs {
			if !listed(c) {
				continue
			}
			it := c.item(a.convTitle(c))
			if c.mode == bridge.ModeOneToOne && c.contactURI != "" {
				byPeer[c.contactURI] = it
				continue
			}
			if matches(it.Title) {
				out = append(out, it)
				seen[c.id] = true
			}
		}
	}
	a.mu.Unlock()

	if a.contacts != nil {
		for _, s := range a.contacts.Contacts(accountID) {
			if s.Banned || !(matches(s.URI) || matches(s.BestName()) || matches(s.RegisteredName)) {
				continue
			}
			if it, ok := byPeer[s.URI]; ok {
				it.Title = s.BestName()
				out = append(out, it)
				seen[it.ConversationID] = true
			} else {
				out = append(out, Item{AccountID: accountID, ContactURI: s.URI, Title: s.BestName(), Mode: bridge.ModeOneToOne, Online: s.Online})
			}
			seen[s.URI] = true
		}
	}
	for uri, it := range byPeer {
		if !seen[uri] && !seen[it.ConversationID] && (matches(uri) || matches(it.Title)) {
			out = append(out, it)
			seen[uri] = true
		}
	}

	if a.contacts == nil || strings.ContainsAny(query, " \t") || !a.limiter.Allow() {
		return out, nil
	}
	res, err := a.contacts.LookupName(ctx, accountID, query)
	switch {
	case errors.Is(err, context.Canceled):
		return out, err
	case err != nil:
		a.logger.Debug("search lookup failed", zap.String("query", query), zap.Error(err))
	case res.Found && !seen[res.Address]:
		it := Item{AccountID: accountID, ContactURI: res.Address, Title: res.Name, Mode: bridge.ModeOneToOne}
		if c, ok := byPeer[res.Address]; ok {
			it = c
		}
		out = append(out, it)
	}
	return out, nil
}

// SearchMessages finds stored text messages of an account containing
// query, newest first.
func (a *Assembler) SearchMessages(accountID, query string, limit int) ([]store.SearchResult, error) {
	if a.db == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return a.db.SearchInteractions(accountID, query, limit)
}
