package bridge

// MessageStatus is the daemon's per-peer text message status code.
type MessageStatus int

const (
	MessageUnknown   MessageStatus = 0
	MessageSending   MessageStatus = 1
	MessageSent      MessageStatus = 2
	MessageDisplayed MessageStatus = 3
	MessageInvalid   MessageStatus = 4
	MessageFailure   MessageStatus = 5
)

func (s MessageStatus) String() string {
	switch s {
	case MessageSending:
		return "sending"
	case MessageSent:
		return "sent"
	case MessageDisplayed:
		return "displayed"
	case MessageInvalid:
		return "invalid"
	case MessageFailure:
		return "failure"
	}
	return "unknown"
}

// TransferCode is the daemon's data transfer event code.
type TransferCode int

const (
	TransferInvalid        TransferCode = 0
	TransferCreated        TransferCode = 1
	TransferUnsupported    TransferCode = 2
	TransferWaitPeer       TransferCode = 3
	TransferWaitHost       TransferCode = 4
	TransferOngoing        TransferCode = 5
	TransferFinished       TransferCode = 6
	TransferClosedByHost   TransferCode = 7
	TransferClosedByPeer   TransferCode = 8
	TransferInvalidPath    TransferCode = 9
	TransferUnjoinablePeer TransferCode = 10
	TransferTimeout        TransferCode = 11
)

func (c TransferCode) String() string {
	switch c {
	case TransferCreated:
		return "created"
	case TransferUnsupported, TransferInvalidPath:
		return "error"
	case TransferWaitPeer:
		return "awaiting_peer"
	case TransferWaitHost:
		return "awaiting_host"
	case TransferOngoing:
		return "ongoing"
	case TransferFinished:
		return "finished"
	case TransferClosedByHost, TransferClosedByPeer, TransferUnjoinablePeer:
		return "unjoinable"
	case TransferTimeout:
		return "timeout"
	}
	return "invalid"
}

// MemberAction is a conversation membership change.
type MemberAction int

const (
	MemberAdd    MemberAction = 0
	MemberJoin   MemberAction = 1
	MemberRemove MemberAction = 2
	MemberBan    MemberAction = 3
)

func (a MemberAction) String() string {
	switch a {
	case MemberAdd:
		return "add"
	case MemberJoin:
		return "join"
	case MemberRemove:
		return "remove"
	case MemberBan:
		return "ban"
	}
	return "unknown"
}

// memberActionFromCommit maps the action field of a "member" commit.
func memberActionFromCommit(action string) MemberAction {
	switch action {
	case "join":
		return MemberJoin
	case "remove":
		return MemberRemove
	case "ban":
		return MemberBan
	}
	return MemberAdd
}

// ConversationMode is the daemon's conversation mode plus two local states.
type ConversationMode int

const (
	ModeOneToOne         ConversationMode = 0
	ModeAdminInvitesOnly ConversationMode = 1
	ModeInvitesOnly      ConversationMode = 2
	ModePublic           ConversationMode = 3
	ModeSyncing          ConversationMode = 4
	ModeRequest          ConversationMode = 5
)

func (m ConversationMode) String() string {
	switch m {
	case ModeOneToOne:
		return "one_to_one"
	case ModeAdminInvitesOnly:
		return "admin_invites_only"
	case ModeInvitesOnly:
		return "invites_only"
	case ModePublic:
		return "public"
	case ModeSyncing:
		return "syncing"
	case ModeRequest:
		return "request"
	}
	return "unknown"
}

// ParseMode is the inverse of ConversationMode.String; unknown names map to
// ModeInvitesOnly.
func ParseMode(s string) ConversationMode {
	for m := ModeOneToOne; m <= ModeRequest; m++ {
		if m.String() == s {
			return m
		}
	}
	return ModeInvitesOnly
}
