package methods

import (
	"log/slog"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// sendMoonErr applies moonerr.Sanitize exactly once, at this Gateway
// serialization boundary (§7): the internal, pre-sanitized error is
// logged, and only the sanitized projection ever reaches the client.
func sendMoonErr(client *gateway.Client, id []byte, err error) {
	sanitized := moonerr.Sanitize(err)
	slog.Error("gateway: request failed", "err", err)
	client.SendResponse(protocol.NewErrorResponse(id, protocol.CodeServerError, sanitized.Message, string(sanitized.Code), sanitized.Details))
	if m := client.Server().Metrics(); m != nil {
		m.RecordRPCError(string(sanitized.Code))
	}
}
