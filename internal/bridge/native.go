package bridge

// SwarmMessage is a conversation commit as handed over by the daemon.
type SwarmMessage struct {
	ID               string
	Type             string
	LinearizedParent string
	Body             map[string]string
	Status           map[string]int
}

// Native is the blocking call surface of the daemon. Every method is invoked
// from the executor goroutine only, so implementations never see concurrent
// calls. Map-typed results keep the daemon's string keys.
type Native interface {
	GetAccountList() []string
	GetAccountDetails(accountID string) map[string]string
	GetVolatileAccountDetails(accountID string) map[string]string
	GetKnownRingDevices(accountID string) map[string]string
	AddAccount(details map[string]string) (string, error)
	RemoveAccount(accountID string) error
	SetAccountActive(accountID string, active bool) error
	RevokeDevice(accountID, deviceID, scheme, password string) error
	SetDeviceName(accountID, name string) error
	RegisterName(accountID, name, scheme, password string) error
	MigrateAccount(accountID, password string) error

	GetContacts(accountID string) []map[string]string
	GetContactDetails(accountID, uri string) map[string]string
	AddContact(accountID, uri string) error
	RemoveContact(accountID, uri string, ban bool) error
	AcceptTrustRequest(accountID, from string) error
	DiscardTrustRequest(accountID, from string) error
	LookupName(accountID, nameServer, name string) error
	LookupAddress(accountID, nameServer, address string) error

	GetConversations(accountID string) []string
	ConversationInfos(accountID, conversationID string) map[string]string
	GetConversationMembers(accountID, conversationID string) []map[string]string
	GetConversationRequests(accountID string) []map[string]string
	StartConversation(accountID string) (string, error)
	AddConversationMember(accountID, conversationID, uri string) error
	RemoveConversation(accountID, conversationID string) error
	AcceptConversationRequest(accountID, conversationID string) error
	DeclineConversationRequest(accountID, conversationID string) error
	// LoadConversationMessages starts an asynchronous history load answered by
	// SwarmLoaded with the returned request id.
	LoadConversationMessages(accountID, conversationID, fromMessage string, n int) uint32
	// SendMessage returns the id of the commit created for body.
	SendMessage(accountID, conversationID, body, replyTo string, flag int) (string, error)
	SetMessageDisplayed(accountID, conversationURI, messageID string, status int) error

	SendFile(accountID, conversationID, path, displayName, replyTo string) error
	DownloadFile(accountID, conversationID, interactionID, fileID, path string) error
	CancelDataTransfer(accountID, conversationID, fileID string) error
	FileTransferInfo(accountID, conversationID, fileID string) (path string, total, progress int64, err error)
}

// Callbacks is the daemon → client entry surface. Implementations must return
// quickly: the daemon invokes them from its own threads.
type Callbacks interface {
	AccountsChanged()
	RegistrationStateChanged(accountID, state string, code int, detail string)
	AccountDetailsChanged(accountID string, details map[string]string)
	VolatileAccountDetailsChanged(accountID string, details map[string]string)
	KnownDevicesChanged(accountID string, devices map[string]string)
	NameRegistrationEnded(accountID string, state int, name string)
	RegisteredNameFound(accountID string, state int, address, name string)
	DeviceRevocationEnded(accountID, deviceID string, state int)
	MigrationEnded(accountID, state string)
	IncomingTrustRequest(accountID, conversationID, from string, payload []byte, received int64)
	ContactAdded(accountID, uri string, confirmed bool)
	ContactRemoved(accountID, uri string, banned bool)
	ProfileReceived(accountID, peer, path string)
	NewBuddyNotification(accountID, buddyURI string, status int, lineStatus string)
	AccountMessageStatusChanged(accountID, conversationID, peer, messageID string, status int)
	DataTransferEvent(accountID, conversationID, interactionID, fileID string, code int)
	SwarmLoaded(requestID uint32, accountID, conversationID string, messages []SwarmMessage)
	SwarmMessageReceived(accountID, conversationID string, message SwarmMessage)
	ConversationReady(accountID, conversationID string)
	ConversationRemoved(accountID, conversationID string)
	ConversationRequestReceived(accountID, conversationID string, metadata map[string]string)
	ConversationRequestDeclined(accountID, conversationID string)
	ConversationMemberEvent(accountID, conversationID, uri string, event int)
}

// Account detail keys understood by the decoder.
const (
	KeyAlias              = "Account.alias"
	KeyEnabled            = "Account.enable"
	KeyUsername           = "Account.username"
	KeyRegisteredName     = "Account.registeredName"
	KeyHasPassword        = "Account.archiveHasPassword"
	KeyManagerURI         = "Account.managerUri"
	KeyType               = "Account.type"
	KeyRegistrationStatus = "Account.registrationStatus"
	KeyDisplayName        = "Account.displayName"
)
