package protocol

// Server-to-client notification names (§4.7 notifications).
const (
	EventChatResponse      = "chat.response"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventApprovalUpdated   = "approval.updated"
)

// Internal bus event names not forwarded verbatim to clients; the Gateway
// projects these into the notifications above for connected surfaces.
const (
	BusEventTaskStateChanged  = "task.state_changed"
	BusEventApprovalRequested = "approval.requested"
	BusEventApprovalResolved  = "approval.resolved"
	BusEventLogError          = "log.error"
)
