package sipconn

import (
	"fmt"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// CauseFromStatus maps a final SIP failure response to the disconnect
// cause reported for the call.
func CauseFromStatus(code int, reason string) call.DisconnectCause {
	var c call.DisconnectCause
	switch code {
	case 486, 600:
		c = call.NewDisconnectCause(call.DisconnectBusy)
		c.Tone = call.ToneHintBusy
	case 603:
		c = call.NewDisconnectCause(call.DisconnectRejected)
	case 487:
		c = call.NewDisconnectCause(call.DisconnectCanceled)
	case 404, 480, 484:
		c = call.NewDisconnectCause(call.DisconnectError)
		c.Reason = "unavailable"
		c.Tone = call.ToneHintIntercept
	case 403:
		c = call.NewDisconnectCause(call.DisconnectRestricted)
	case 503:
		c = call.NewDisconnectCause(call.DisconnectError)
		c.Reason = "congestion"
		c.Tone = call.ToneHintCongestion
	default:
		c = call.NewDisconnectCause(call.DisconnectError)
		c.Reason = fmt.Sprintf("sip %d", code)
	}
	c.Label = reason
	return c
}

// causeFromResponse is CauseFromStatus for a received response
func causeFromResponse(resp *sip.Response) call.DisconnectCause {
	return CauseFromStatus(int(resp.StatusCode), resp.Reason)
}
