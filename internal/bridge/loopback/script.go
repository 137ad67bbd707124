package loopback

import (
	"maps"
	"strconv"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
)

// The methods below play the remote side: they change daemon state the way a
// peer or the network would and fire the matching callbacks.

// SetClock replaces the time source used for commit timestamps.
func (d *Daemon) SetClock(clock func() time.Time) {
	d.mu.Lock()
	d.clock = clock
	d.mu.Unlock()
}

// SelfURI returns the account's own URI.
func (d *Daemon) SelfURI(accountID string) string {
	f, _ := d.enter("")
	defer d.leave(f)
	if a := d.accounts[accountID]; a != nil {
		return a.details[bridge.KeyUsername]
	}
	return ""
}

// SetRegistrationState reports a new registration state for an account.
func (d *Daemon) SetRegistrationState(accountID, state string) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	if a := d.accounts[accountID]; a != nil {
		a.volatile[bridge.KeyRegistrationStatus] = state
	}
	f = append(f, func(cb bridge.Callbacks) { cb.RegistrationStateChanged(accountID, state, 0, "") })
}

// AddDevice links another device to an account.
func (d *Daemon) AddDevice(accountID, deviceID, name string) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	a := d.accounts[accountID]
	if a == nil {
		return
	}
	a.devices[deviceID] = name
	devices := maps.Clone(a.devices)
	f = append(f, func(cb bridge.Callbacks) { cb.KnownDevicesChanged(accountID, devices) })
}

// RegisterRemoteName makes name resolvable to address.
func (d *Daemon) RegisterRemoteName(name, address string) {
	d.mu.Lock()
	d.names[name] = address
	d.mu.Unlock()
}

// SetContactName sets the profile display name the daemon knows for uri.
func (d *Daemon) SetContactName(accountID, uri, name string) {
	f, _ := d.enter("")
	defer d.leave(f)
	if a := d.accounts[accountID]; a != nil {
		c := a.contacts[uri]
		if c == nil {
			c = &contact{added: d.now()}
			a.contacts[uri] = c
		}
		c.displayName = name
	}
}

// Deliver appends a text commit authored by from and announces it.
func (d *Daemon) Deliver(accountID, conversationID, from, body string) string {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	_, c := d.conv(accountID, conversationID)
	if c == nil {
		return ""
	}
	m := d.commit(c, "text/plain", from, map[string]string{"body": body})
	f = append(f, func(cb bridge.Callbacks) { cb.SwarmMessageReceived(accountID, conversationID, m) })
	return m.ID
}

// Seed appends a text commit without announcing it, as history that only a
// load will reveal.
func (d *Daemon) Seed(accountID, conversationID, from, body string) string {
	f, _ := d.enter("")
	defer d.leave(f)
	_, c := d.conv(accountID, conversationID)
	if c == nil {
		return ""
	}
	return d.commit(c, "text/plain", from, map[string]string{"body": body}).ID
}

// OfferFile appends an incoming transfer commit and announces it as created.
func (d *Daemon) OfferFile(accountID, conversationID, from, name string, size int64) (interactionID, fileID string) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	_, c := d.conv(accountID, conversationID)
	if c == nil {
		return "", ""
	}
	fileID = newID()
	m := d.commit(c, "application/data-transfer+json", from, map[string]string{
		"fileId":      fileID,
		"displayName": name,
		"totalSize":   strconv.FormatInt(size, 10),
	})
	d.transfers[fileID] = &transfer{total: size}
	f = append(f,
		func(cb bridge.Callbacks) { cb.SwarmMessageReceived(accountID, conversationID, m) },
		func(cb bridge.Callbacks) {
			cb.DataTransferEvent(accountID, conversationID, m.ID, fileID, int(bridge.TransferWaitHost))
		},
	)
	return m.ID, fileID
}

// Progress sets how many bytes of a transfer have moved; reaching the total
// finishes it.
func (d *Daemon) Progress(accountID, conversationID, interactionID, fileID string, n int64) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	t := d.transfers[fileID]
	if t == nil {
		return
	}
	t.progress = n
	if n >= t.total {
		f = append(f, func(cb bridge.Callbacks) {
			cb.DataTransferEvent(accountID, conversationID, interactionID, fileID, int(bridge.TransferFinished))
		})
	}
}

// TransferEvent fires a raw transfer callback.
func (d *Daemon) TransferEvent(accountID, conversationID, interactionID, fileID string, code bridge.TransferCode) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	f = append(f, func(cb bridge.Callbacks) {
		cb.DataTransferEvent(accountID, conversationID, interactionID, fileID, int(code))
	})
}

// SetStatus reports a per-peer status for a commit.
func (d *Daemon) SetStatus(accountID, conversationID, peer, messageID string, status bridge.MessageStatus) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	if _, c := d.conv(accountID, conversationID); c != nil {
		for i := range c.messages {
			if c.messages[i].ID == messageID {
				c.messages[i].Status[peer] = int(status)
			}
		}
	}
	f = append(f, func(cb bridge.Callbacks) {
		cb.AccountMessageStatusChanged(accountID, conversationID, peer, messageID, int(status))
	})
}

// ReceiveRequest records an invitation from uri for a new one-to-one
// conversation and announces both the trust request and the conversation
// request. It returns the conversation id.
func (d *Daemon) ReceiveRequest(accountID, from string) string {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	a := d.accounts[accountID]
	if a == nil {
		return ""
	}
	convID := newID()
	now := d.now()
	meta := map[string]string{
		"id":       convID,
		"from":     from,
		"received": strconv.FormatInt(now, 10),
		"mode":     strconv.Itoa(int(bridge.ModeOneToOne)),
	}
	a.requests[from] = meta
	metaCopy := maps.Clone(meta)
	f = append(f,
		func(cb bridge.Callbacks) { cb.IncomingTrustRequest(accountID, convID, from, nil, now) },
		func(cb bridge.Callbacks) { cb.ConversationRequestReceived(accountID, convID, metaCopy) },
	)
	return convID
}

// SetPresence reports a contact's presence.
func (d *Daemon) SetPresence(accountID, uri string, online bool) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	status := 0
	if online {
		status = 1
	}
	f = append(f, func(cb bridge.Callbacks) { cb.NewBuddyNotification(accountID, uri, status, "") })
}

// SendProfile announces a vCard for peer stored at path.
func (d *Daemon) SendProfile(accountID, peer, path string) {
	f, _ := d.enter("")
	defer func() { d.leave(f) }()
	f = append(f, func(cb bridge.Callbacks) { cb.ProfileReceived(accountID, peer, path) })
}
