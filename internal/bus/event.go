package bus

import "time"

// Event represents a fire-and-forget notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notification kinds consumed by the notification service and the inspector.
const (
	KindMessage         = "notify.message"
	KindTrustRequest    = "notify.trust_request"
	KindRequestResolved = "notify.request_resolved"
	KindTransfer        = "notify.transfer"
	KindAccounts        = "account.list_changed"
	KindCurrentAccount  = "account.current_changed"
	KindStoreFailed     = "store.write_failed"
	KindBridgeStatus    = "bridge.status_changed"
)
