package store

// Interaction kinds as persisted.
const (
	KindText     = "text"
	KindCall     = "call"
	KindTransfer = "transfer"
	KindContact  = "contact"
)

// Conversation is the durable half of a conversation.
type Conversation struct {
	AccountID      string
	ConversationID string
	Mode           string
	ContactURI     string
	Members        []string
	LastActivity   int64
}

// Interaction is one persisted conversation item.
type Interaction struct {
	AccountID        string
	ConversationID   string
	InteractionID    string
	Seq              int64
	Kind             string
	Author           string
	Body             string
	Status           string
	Incoming         bool
	Timestamp        int64
	FileID           string
	FilePath         string
	TotalSize        int64
	BytesTransferred int64
	DurationMS       int64
}

// Contact is a cached contact row.
type Contact struct {
	AccountID      string
	URI            string
	DisplayName    string
	RegisteredName string
	AddedAt        int64
	Confirmed      bool
	Banned         bool
}

// TrustRequest is a pending invitation.
type TrustRequest struct {
	AccountID      string
	FromURI        string
	ConversationID string
	DisplayName    string
	ReceivedAt     int64
}

// SmartlistRow pairs a conversation with its newest interaction, if any.
type SmartlistRow struct {
	Conversation Conversation
	Last         *Interaction
}
