package protocol

// RPC method name constants, registered verbatim on the Gateway's method
// router (C7).
const (
	MethodConnect = "connect"

	MethodChatSend = "chat.send"

	MethodApprovalRespond = "approval.respond"
	MethodApprovalList    = "approval.list"

	MethodToolsList          = "tools.list"
	MethodToolsInvoke        = "tools.invoke"
	MethodToolsApprove       = "tools.approve"
	MethodToolsGetPending    = "tools.getPending"
	MethodToolsGetInvocation = "tools.getInvocation"

	MethodSessionGet    = "session.get"
	MethodSessionList   = "session.list"
	MethodSessionPatch  = "session.patch"
	MethodSessionSend   = "session.send"
	MethodSessionReset  = "session.reset"

	MethodChannelList    = "channel.list"
	MethodChannelAdd     = "channel.add"
	MethodChannelRemove  = "channel.remove"
	MethodChannelEnable  = "channel.enable"
	MethodChannelDisable = "channel.disable"

	MethodGatewayInfo = "gateway.info"
)
