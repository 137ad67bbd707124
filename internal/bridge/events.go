package bridge

import "time"

// Event is a decoded daemon callback. The set of implementations is closed.
type Event interface {
	Kind() string
	Account() string
	sealed()
}

// AccountInfo is an account as described by its detail maps.
type AccountInfo struct {
	ID                string
	Alias             string
	Username          string
	DisplayName       string
	RegisteredName    string
	Enabled           bool
	HasPassword       bool
	HasManager        bool
	RegistrationState string
	Devices           map[string]string
}

// Member is one participant of a conversation.
type Member struct {
	URI  string
	Role string
}

// MessageKind classifies a decoded conversation commit.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageCall     MessageKind = "call"
	MessageTransfer MessageKind = "transfer"
	MessageMember   MessageKind = "member"
	MessageOther    MessageKind = "other"
)

// Message is a decoded conversation commit.
type Message struct {
	ID        string
	Kind      MessageKind
	Author    string
	Parent    string
	Timestamp time.Time
	Body      string
	ReplyTo   string

	FileID    string
	FileName  string
	TotalSize int64

	Duration time.Duration

	Action    MemberAction
	MemberURI string

	Status map[string]MessageStatus
}

type (
	AccountsChanged struct {
		Accounts []AccountInfo
	}
	RegistrationStateChanged struct {
		AccountID string
		State     string
		Code      int
		Detail    string
	}
	AccountDetailsChanged struct {
		AccountID string
		Info      AccountInfo
	}
	VolatileDetailsChanged struct {
		AccountID         string
		RegistrationState string
	}
	KnownDevicesChanged struct {
		AccountID string
		Devices   map[string]string
	}
	NameRegistrationEnded struct {
		AccountID string
		State     int
		Name      string
	}
	RegisteredNameFound struct {
		AccountID string
		State     int
		Address   string
		Name      string
	}
	DeviceRevocationEnded struct {
		AccountID string
		DeviceID  string
		State     int
	}
	MigrationEnded struct {
		AccountID string
		State     string
	}
	TrustRequestReceived struct {
		AccountID      string
		ConversationID string
		From           string
		Payload        []byte
		Received       time.Time
	}
	ContactAdded struct {
		AccountID string
		URI       string
		Confirmed bool
	}
	ContactRemoved struct {
		AccountID string
		URI       string
		Banned    bool
	}
	ProfileReceived struct {
		AccountID string
		PeerURI   string
		Path      string
	}
	PresenceChanged struct {
		AccountID string
		URI       string
		Online    bool
	}
	MessageStatusChanged struct {
		AccountID      string
		ConversationID string
		Peer           string
		MessageID      string
		Status         MessageStatus
	}
	DataTransferEvent struct {
		AccountID      string
		ConversationID string
		InteractionID  string
		FileID         string
		Code           TransferCode
		Path           string
		Total          int64
		Progress       int64
	}
	ConversationLoaded struct {
		RequestID      uint32
		AccountID      string
		ConversationID string
		Messages       []Message
	}
	IncomingMessage struct {
		AccountID      string
		ConversationID string
		Message        Message
	}
	ConversationReady struct {
		AccountID      string
		ConversationID string
		Mode           ConversationMode
		Title          string
		Members        []Member
	}
	ConversationRemoved struct {
		AccountID      string
		ConversationID string
	}
	ConversationRequestReceived struct {
		AccountID      string
		ConversationID string
		From           string
		Title          string
		Mode           ConversationMode
		Received       time.Time
	}
	ConversationRequestDeclined struct {
		AccountID      string
		ConversationID string
	}
	ConversationMemberEvent struct {
		AccountID      string
		ConversationID string
		URI            string
		Action         MemberAction
	}
)

func (AccountsChanged) Kind() string             { return "accounts_changed" }
func (RegistrationStateChanged) Kind() string    { return "registration_state_changed" }
func (AccountDetailsChanged) Kind() string       { return "account_details_changed" }
func (VolatileDetailsChanged) Kind() string      { return "volatile_details_changed" }
func (KnownDevicesChanged) Kind() string         { return "known_devices_changed" }
func (NameRegistrationEnded) Kind() string       { return "name_registration_ended" }
func (RegisteredNameFound) Kind() string         { return "registered_name_found" }
func (DeviceRevocationEnded) Kind() string       { return "device_revocation_ended" }
func (MigrationEnded) Kind() string              { return "migration_ended" }
func (TrustRequestReceived) Kind() string        { return "trust_request_received" }
func (ContactAdded) Kind() string                { return "contact_added" }
func (ContactRemoved) Kind() string              { return "contact_removed" }
func (ProfileReceived) Kind() string             { return "profile_received" }
func (PresenceChanged) Kind() string             { return "presence_changed" }
func (MessageStatusChanged) Kind() string        { return "message_status_changed" }
func (DataTransferEvent) Kind() string           { return "data_transfer" }
func (ConversationLoaded) Kind() string          { return "conversation_loaded" }
func (IncomingMessage) Kind() string             { return "incoming_message" }
func (ConversationReady) Kind() string           { return "conversation_ready" }
func (ConversationRemoved) Kind() string         { return "conversation_removed" }
func (ConversationRequestReceived) Kind() string { return "conversation_request_received" }
func (ConversationRequestDeclined) Kind() string { return "conversation_request_declined" }
func (ConversationMemberEvent) Kind() string     { return "conversation_member_event" }

func (AccountsChanged) Account() string               { return "" }
func (e RegistrationStateChanged) Account() string    { return e.AccountID }
func (e AccountDetailsChanged) Account() string       { return e.AccountID }
func (e VolatileDetailsChanged) Account() string      { return e.AccountID }
func (e KnownDevicesChanged) Account() string         { return e.AccountID }
func (e NameRegistrationEnded) Account() string       { return e.AccountID }
func (e RegisteredNameFound) Account() string         { return e.AccountID }
func (e DeviceRevocationEnded) Account() string       { return e.AccountID }
func (e MigrationEnded) Account() string              { return e.AccountID }
func (e TrustRequestReceived) Account() string        { return e.AccountID }
func (e ContactAdded) Account() string                { return e.AccountID }
func (e ContactRemoved) Account() string              { return e.AccountID }
func (e ProfileReceived) Account() string             { return e.AccountID }
func (e PresenceChanged) Account() string             { return e.AccountID }
func (e MessageStatusChanged) Account() string        { return e.AccountID }
func (e DataTransferEvent) Account() string           { return e.AccountID }
func (e ConversationLoaded) Account() string          { return e.AccountID }
func (e IncomingMessage) Account() string             { return e.AccountID }
func (e ConversationReady) Account() string           { return e.AccountID }
func (e ConversationRemoved) Account() string         { return e.AccountID }
func (e ConversationRequestReceived) Account() string { return e.AccountID }
func (e ConversationRequestDeclined) Account() string { return e.AccountID }
func (e ConversationMemberEvent) Account() string     { return e.AccountID }

func (AccountsChanged) sealed()             {}
func (RegistrationStateChanged) sealed()    {}
func (AccountDetailsChanged) sealed()       {}
func (VolatileDetailsChanged) sealed()      {}
func (KnownDevicesChanged) sealed()         {}
func (NameRegistrationEnded) sealed()       {}
func (RegisteredNameFound) sealed()         {}
func (DeviceRevocationEnded) sealed()       {}
func (MigrationEnded) sealed()              {}
func (TrustRequestReceived) sealed()        {}
func (ContactAdded) sealed()                {}
func (ContactRemoved) sealed()              {}
func (ProfileReceived) sealed()             {}
func (PresenceChanged) sealed()             {}
func (MessageStatusChanged) sealed()        {}
func (DataTransferEvent) sealed()           {}
func (ConversationLoaded) sealed()          {}
func (IncomingMessage) sealed()             {}
func (ConversationReady) sealed()           {}
func (ConversationRemoved) sealed()         {}
func (ConversationRequestReceived) sealed() {}
func (ConversationRequestDeclined) sealed() {}
func (ConversationMemberEvent) sealed()     {}
