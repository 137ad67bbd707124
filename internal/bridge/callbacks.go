package bridge

import (
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"
)

var _ Callbacks = (*Bridge)(nil)

func (b *Bridge) AccountsChanged() {
	b.emit("accounts_changed", func(n Native) Event {
		ids := n.GetAccountList()
		accounts := make([]AccountInfo, 0, len(ids))
		for _, id := range ids {
			accounts = append(accounts, DecodeAccount(id,
				n.GetAccountDetails(id), n.GetVolatileAccountDetails(id), n.GetKnownRingDevices(id)))
		}
		return AccountsChanged{Accounts: accounts}
	})
}

func (b *Bridge) RegistrationStateChanged(accountID, state string, code int, detail string) {
	b.emit("registration_state_changed", func(Native) Event {
		return RegistrationStateChanged{AccountID: accountID, State: state, Code: code, Detail: detail}
	})
}

func (b *Bridge) AccountDetailsChanged(accountID string, details map[string]string) {
	details = maps.Clone(details)
	b.emit("account_details_changed", func(n Native) Event {
		return AccountDetailsChanged{
			AccountID: accountID,
			Info: DecodeAccount(accountID, details,
				n.GetVolatileAccountDetails(accountID), n.GetKnownRingDevices(accountID)),
		}
	})
}

func (b *Bridge) VolatileAccountDetailsChanged(accountID string, details map[string]string) {
	state := details[KeyRegistrationStatus]
	b.emit("volatile_details_changed", func(Native) Event {
		return VolatileDetailsChanged{AccountID: accountID, RegistrationState: state}
	})
}

func (b *Bridge) KnownDevicesChanged(accountID string, devices map[string]string) {
	devices = maps.Clone(devices)
	b.emit("known_devices_changed", func(Native) Event {
		return KnownDevicesChanged{AccountID: accountID, Devices: devices}
	})
}

func (b *Bridge) NameRegistrationEnded(accountID string, state int, name string) {
	b.emit("name_registration_ended", func(Native) Event {
		return NameRegistrationEnded{AccountID: accountID, State: state, Name: name}
	})
}

func (b *Bridge) RegisteredNameFound(accountID string, state int, address, name string) {
	b.emit("registered_name_found", func(Native) Event {
		return RegisteredNameFound{AccountID: accountID, State: state, Address: address, Name: name}
	})
}

func (b *Bridge) DeviceRevocationEnded(accountID, deviceID string, state int) {
	b.emit("device_revocation_ended", func(Native) Event {
		return DeviceRevocationEnded{AccountID: accountID, DeviceID: deviceID, State: state}
	})
}

func (b *Bridge) MigrationEnded(accountID, state string) {
	b.emit("migration_ended", func(Native) Event {
		return MigrationEnded{AccountID: accountID, State: state}
	})
}

func (b *Bridge) IncomingTrustRequest(accountID, conversationID, from string, payload []byte, received int64) {
	payload = slices.Clone(payload)
	b.emit("trust_request_received", func(Native) Event {
		return TrustRequestReceived{
			AccountID:      accountID,
			ConversationID: conversationID,
			From:           from,
			Payload:        payload,
			Received:       time.Unix(received, 0),
		}
	})
}

func (b *Bridge) ContactAdded(accountID, uri string, confirmed bool) {
	b.emit("contact_added", func(Native) Event {
		return ContactAdded{AccountID: accountID, URI: uri, Confirmed: confirmed}
	})
}

func (b *Bridge) ContactRemoved(accountID, uri string, banned bool) {
	b.emit("contact_removed", func(Native) Event {
		return ContactRemoved{AccountID: accountID, URI: uri, Banned: banned}
	})
}

func (b *Bridge) ProfileReceived(accountID, peer, path string) {
	b.emit("profile_received", func(Native) Event {
		return ProfileReceived{AccountID: accountID, PeerURI: peer, Path: path}
	})
}

func (b *Bridge) NewBuddyNotification(accountID, buddyURI string, status int, _ string) {
	b.emit("presence_changed", func(Native) Event {
		return PresenceChanged{AccountID: accountID, URI: buddyURI, Online: status > 0}
	})
}

func (b *Bridge) AccountMessageStatusChanged(accountID, conversationID, peer, messageID string, status int) {
	b.emit("message_status_changed", func(Native) Event {
		return MessageStatusChanged{
			AccountID:      accountID,
			ConversationID: conversationID,
			Peer:           peer,
			MessageID:      messageID,
			Status:         MessageStatus(status),
		}
	})
}

func (b *Bridge) DataTransferEvent(accountID, conversationID, interactionID, fileID string, code int) {
	b.emit("data_transfer", func(n Native) Event {
		ev := DataTransferEvent{
			AccountID:      accountID,
			ConversationID: conversationID,
			InteractionID:  interactionID,
			FileID:         fileID,
			Code:           TransferCode(code),
		}
		path, total, progress, err := n.FileTransferInfo(accountID, conversationID, fileID)
		if err != nil {
			b.logger.Debug("file transfer info unavailable", zap.String("file_id", fileID), zap.Error(err))
			return ev
		}
		ev.Path, ev.Total, ev.Progress = path, total, progress
		return ev
	})
}

func (b *Bridge) SwarmLoaded(requestID uint32, accountID, conversationID string, messages []SwarmMessage) {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, DecodeMessage(m))
	}
	b.emit("conversation_loaded", func(Native) Event {
		return ConversationLoaded{RequestID: requestID, AccountID: accountID, ConversationID: conversationID, Messages: out}
	})
}

func (b *Bridge) SwarmMessageReceived(accountID, conversationID string, message SwarmMessage) {
	msg := DecodeMessage(message)
	b.emit("incoming_message", func(Native) Event {
		return IncomingMessage{AccountID: accountID, ConversationID: conversationID, Message: msg}
	})
}

func (b *Bridge) ConversationReady(accountID, conversationID string) {
	b.emit("conversation_ready", func(n Native) Event {
		infos := n.ConversationInfos(accountID, conversationID)
		return ConversationReady{
			AccountID:      accountID,
			ConversationID: conversationID,
			Mode:           DecodeMode(infos),
			Title:          infos["title"],
			Members:        DecodeMembers(n.GetConversationMembers(accountID, conversationID)),
		}
	})
}

func (b *Bridge) ConversationRemoved(accountID, conversationID string) {
	b.emit("conversation_removed", func(Native) Event {
		return ConversationRemoved{AccountID: accountID, ConversationID: conversationID}
	})
}

func (b *Bridge) ConversationRequestReceived(accountID, conversationID string, metadata map[string]string) {
	metadata = maps.Clone(metadata)
	b.emit("conversation_request_received", func(Native) Event {
		return DecodeRequest(accountID, conversationID, metadata)
	})
}

func (b *Bridge) ConversationRequestDeclined(accountID, conversationID string) {
	b.emit("conversation_request_declined", func(Native) Event {
		return ConversationRequestDeclined{AccountID: accountID, ConversationID: conversationID}
	})
}

func (b *Bridge) ConversationMemberEvent(accountID, conversationID, uri string, event int) {
	b.emit("conversation_member_event", func(Native) Event {
		return ConversationMemberEvent{
			AccountID:      accountID,
			ConversationID: conversationID,
			URI:            uri,
			Action:         MemberAction(event),
		}
	})
}
