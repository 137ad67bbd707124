package loopback

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
)

func (d *Daemon) conv(accountID, conversationID string) (*account, *conversation) {
	a := d.accounts[accountID]
	if a == nil {
		return nil, nil
	}
	return a, a.convs[conversationID]
}

func (d *Daemon) GetConversations(accountID string) []string {
	f, _ := d.enter("GetConversations")
	defer d.leave(f)
	a := d.accounts[accountID]
	if a == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(a.convs))
}

func (d *Daemon) ConversationInfos(accountID, conversationID string) map[string]string {
	f, _ := d.enter("ConversationInfos")
	defer d.leave(f)
	if _, c := d.conv(accountID, conversationID); c != nil {
		return maps.Clone(c.infos)
	}
	return map[string]string{"syncing": "true"}
}

func (d *Daemon) GetConversationMembers(accountID, conversationID string) []map[string]string {
	f, _ := d.enter("GetConversationMembers")
	defer d.leave(f)
	_, c := d.conv(accountID, conversationID)
	if c == nil {
		return nil
	}
	out := make([]map[string]string, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, maps.Clone(m))
	}
	return out
}

func (d *Daemon) GetConversationRequests(accountID string) []map[string]string {
	f, _ := d.enter("GetConversationRequests")
	defer d.leave(f)
	a := d.accounts[accountID]
	if a == nil {
		return nil
	}
	var out []map[string]string
	for _, from := range slices.Sorted(maps.Keys(a.requests)) {
		out = append(out, maps.Clone(a.requests[from]))
	}
	return out
}

func (d *Daemon) StartConversation(accountID string) (string, error) {
	f, err := d.enter("StartConversation")
	defer func() { d.leave(f) }()
	if err != nil {
		return "", err
	}
	a := d.accounts[accountID]
	if a == nil {
		return "", ErrNotFound
	}
	id := newID()
	a.convs[id] = &conversation{
		infos:   map[string]string{"mode": strconv.Itoa(int(bridge.ModeInvitesOnly))},
		members: []map[string]string{{"uri": a.details[bridge.KeyUsername], "role": "admin"}},
	}
	f = append(f, func(cb bridge.Callbacks) { cb.ConversationReady(accountID, id) })
	return id, nil
}

func (d *Daemon) AddConversationMember(accountID, conversationID, uri string) error {
	f, err := d.enter("AddConversationMember")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	_, c := d.conv(accountID, conversationID)
	if c == nil {
		return ErrNotFound
	}
	c.members = append(c.members, map[string]string{"uri": uri, "role": "invited"})
	f = append(f, func(cb bridge.Callbacks) {
		cb.ConversationMemberEvent(accountID, conversationID, uri, int(bridge.MemberAdd))
	})
	return nil
}

func (d *Daemon) RemoveConversation(accountID, conversationID string) error {
	f, err := d.enter("RemoveConversation")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a, c := d.conv(accountID, conversationID)
	if c == nil {
		return ErrNotFound
	}
	delete(a.convs, conversationID)
	f = append(f, func(cb bridge.Callbacks) { cb.ConversationRemoved(accountID, conversationID) })
	return nil
}

func (d *Daemon) AcceptConversationRequest(accountID, conversationID string) error {
	f, err := d.enter("AcceptConversationRequest")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	for from, req := range a.requests {
		if req["id"] != conversationID {
			continue
		}
		delete(a.requests, from)
		if a.convs[conversationID] == nil {
			a.convs[conversationID] = &conversation{
				infos: map[string]string{"mode": req["mode"]},
				members: []map[string]string{
					{"uri": from, "role": "admin"},
					{"uri": a.details[bridge.KeyUsername], "role": "member"},
				},
			}
		}
		f = append(f, func(cb bridge.Callbacks) { cb.ConversationReady(accountID, conversationID) })
		break
	}
	return nil
}

func (d *Daemon) DeclineConversationRequest(accountID, conversationID string) error {
	f, err := d.enter("DeclineConversationRequest")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a := d.accounts[accountID]
	if a == nil {
		return ErrNotFound
	}
	for from, req := range a.requests {
		if req["id"] == conversationID {
			delete(a.requests, from)
		}
	}
	f = append(f, func(cb bridge.Callbacks) { cb.ConversationRequestDeclined(accountID, conversationID) })
	return nil
}

// LoadConversationMessages answers with up to n commits older than
// fromMessage, newest first.
func (d *Daemon) LoadConversationMessages(accountID, conversationID, fromMessage string, n int) uint32 {
	f, _ := d.enter("LoadConversationMessages")
	defer func() { d.leave(f) }()
	d.nextReq++
	req := d.nextReq
	_, c := d.conv(accountID, conversationID)
	var page []bridge.SwarmMessage
	if c != nil {
		end := len(c.messages)
		if fromMessage != "" {
			end = slices.IndexFunc(c.messages, func(m bridge.SwarmMessage) bool { return m.ID == fromMessage })
			if end < 0 {
				end = 0
			}
		}
		for i := end - 1; i >= 0 && len(page) < n; i-- {
			page = append(page, cloneMessage(c.messages[i]))
		}
	}
	f = append(f, func(cb bridge.Callbacks) { cb.SwarmLoaded(req, accountID, conversationID, page) })
	return req
}

func (d *Daemon) SendMessage(accountID, conversationID, body, replyTo string, _ int) (string, error) {
	f, err := d.enter("SendMessage")
	defer func() { d.leave(f) }()
	if err != nil {
		return "", err
	}
	a, c := d.conv(accountID, conversationID)
	if c == nil {
		return "", ErrNotFound
	}
	m := d.commit(c, "text/plain", a.details[bridge.KeyUsername], map[string]string{"body": body, "reply-to": replyTo})
	f = append(f, func(cb bridge.Callbacks) { cb.SwarmMessageReceived(accountID, conversationID, m) })
	return m.ID, nil
}

func (d *Daemon) SetMessageDisplayed(accountID, conversationURI, messageID string, status int) error {
	f, err := d.enter("SetMessageDisplayed")
	defer d.leave(f)
	return err
}

func (d *Daemon) commit(c *conversation, typ, author string, body map[string]string) bridge.SwarmMessage {
	id := newID()
	b := map[string]string{
		"id":        id,
		"type":      typ,
		"author":    author,
		"timestamp": strconv.FormatInt(d.now(), 10),
	}
	for k, v := range body {
		if v != "" {
			b[k] = v
		}
	}
	parent := ""
	if n := len(c.messages); n > 0 {
		parent = c.messages[n-1].ID
	}
	m := bridge.SwarmMessage{ID: id, Type: typ, LinearizedParent: parent, Body: b, Status: map[string]int{}}
	c.messages = append(c.messages, m)
	return cloneMessage(m)
}

func cloneMessage(m bridge.SwarmMessage) bridge.SwarmMessage {
	m.Body = maps.Clone(m.Body)
	m.Status = maps.Clone(m.Status)
	return m
}

// ---- transfers ----

func (d *Daemon) SendFile(accountID, conversationID, path, displayName, replyTo string) error {
	f, err := d.enter("SendFile")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	a, c := d.conv(accountID, conversationID)
	if c == nil {
		return ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if displayName == "" {
		displayName = filepath.Base(path)
	}
	fileID := newID()
	m := d.commit(c, "application/data-transfer+json", a.details[bridge.KeyUsername], map[string]string{
		"fileId":      fileID,
		"displayName": displayName,
		"totalSize":   strconv.FormatInt(info.Size(), 10),
		"reply-to":    replyTo,
	})
	d.transfers[fileID] = &transfer{path: path, total: info.Size(), progress: info.Size()}
	f = append(f,
		func(cb bridge.Callbacks) { cb.SwarmMessageReceived(accountID, conversationID, m) },
		func(cb bridge.Callbacks) {
			cb.DataTransferEvent(accountID, conversationID, m.ID, fileID, int(bridge.TransferFinished))
		},
	)
	return nil
}

func (d *Daemon) DownloadFile(accountID, conversationID, interactionID, fileID, path string) error {
	f, err := d.enter("DownloadFile")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	t := d.transfers[fileID]
	if t == nil {
		return ErrNotFound
	}
	t.path = path
	f = append(f, func(cb bridge.Callbacks) {
		cb.DataTransferEvent(accountID, conversationID, interactionID, fileID, int(bridge.TransferOngoing))
	})
	return nil
}

func (d *Daemon) CancelDataTransfer(accountID, conversationID, fileID string) error {
	f, err := d.enter("CancelDataTransfer")
	defer func() { d.leave(f) }()
	if err != nil {
		return err
	}
	if d.transfers[fileID] == nil {
		return ErrNotFound
	}
	f = append(f, func(cb bridge.Callbacks) {
		cb.DataTransferEvent(accountID, conversationID, "", fileID, int(bridge.TransferClosedByHost))
	})
	return nil
}

func (d *Daemon) FileTransferInfo(_, _, fileID string) (string, int64, int64, error) {
	f, err := d.enter("FileTransferInfo")
	defer d.leave(f)
	if err != nil {
		return "", 0, 0, err
	}
	t := d.transfers[fileID]
	if t == nil {
		return "", 0, 0, ErrNotFound
	}
	return t.path, t.total, t.progress, nil
}
