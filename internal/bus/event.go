package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared across packages. Subscribers filter by prefix, so
// "notify." receives every notification level.
const (
	KindConnStatus         = "conn.status_changed"
	KindConnPersistentDown = "conn.persistent_disconnect"
	KindConnEstablished    = "conn.established"
	KindConnReconnecting   = "conn.reconnect_attempt"
	KindConnReconnected    = "conn.reconnected"
	KindConnLost           = "conn.lost"
	KindConnError          = "conn.error"
	KindMessageUpserted    = "message.upserted"
	KindMessageEdited      = "message.edited"
	KindMessageRecalled    = "message.recalled"
	KindMessageDeleted     = "message.deleted"
	KindMessageRead        = "message.read"
	KindConversationRead   = "conversation.read"
	KindPresenceChanged    = "presence.changed"
	KindTypingChanged      = "presence.typing"
	KindEngagementChanged  = "engagement.changed"
	KindQuickAccessChanged = "quickaccess.changed"
	KindOutboxSent         = "outbox.sent"
	KindOutboxDropped      = "outbox.dropped"
	KindNotifySuccess      = "notify.success"
	KindNotifyInfo         = "notify.info"
	KindNotifyError        = "notify.error"
	NamespaceNotify        = "notify."
	NamespaceConn          = "conn."
)

// Notice is the payload of notify.* events: a short user-visible line.
type Notice struct {
	Text string
	Ref  string
}
