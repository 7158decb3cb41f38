package sipconn

import (
	"fmt"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// dialog is one SIP call leg carrying a core call.
// Fields other than cseq are guarded by Service.mu.
type dialog struct {
	sipCallID string
	callID    string // core call id, empty until bound
	direction call.Direction

	invite   *sip.Request
	serverTx sip.ServerTransaction // inbound
	cancel   func()                // outbound, stops the INVITE transaction

	localTag     string
	remoteTag    string
	remoteTarget sip.Uri

	confirmed   bool
	terminated  bool
	held        bool
	localHangup bool

	remote     Media
	sessionID  uint64
	sdpVersion uint64

	// digits after a ';' waiting for the user to continue
	postDial string

	cseq atomic.Uint32
	done chan struct{}
}

func newDialog(sipCallID string, dir call.Direction, invite *sip.Request) *dialog {
	d := &dialog{
		sipCallID:  sipCallID,
		direction:  dir,
		invite:     invite,
		sessionID:  uint64(uuid.New().ID()),
		sdpVersion: 1,
		done:       make(chan struct{}),
	}
	if cseq := invite.CSeq(); cseq != nil {
		d.cseq.Store(cseq.SeqNo)
	}
	return d
}

// newInboundDialog tracks an INVITE received from the network
func newInboundDialog(req *sip.Request, tx sip.ServerTransaction) *dialog {
	d := newDialog(string(*req.CallID()), call.DirectionIncoming, req)
	d.serverTx = tx
	d.localTag = generateTag()
	if from := req.From(); from != nil {
		d.remoteTag, _ = from.Params.Get("tag")
	}
	if contact := req.Contact(); contact != nil {
		d.remoteTarget = contact.Address
		d.remoteTarget.UriParams = sip.NewParams()
	} else if from := req.From(); from != nil {
		d.remoteTarget = from.Address
	}
	return d
}

// newOutboundDialog tracks an INVITE we are about to send
func newOutboundDialog(invite *sip.Request, localTag string) *dialog {
	d := newDialog(string(*invite.CallID()), call.DirectionOutgoing, invite)
	d.localTag = localTag
	d.remoteTarget = invite.Recipient
	return d
}

// confirm records the remote tag and target of a 2xx answer
func (d *dialog) confirm(resp *sip.Response) {
	d.confirmed = true
	if to := resp.To(); to != nil {
		d.remoteTag, _ = to.Params.Get("tag")
	}
	if contact := resp.Contact(); contact != nil {
		d.remoteTarget = contact.Address
	}
}

// terminate marks the dialog finished. It reports false when it already was.
func (d *dialog) terminate() bool {
	if d.terminated {
		return false
	}
	d.terminated = true
	close(d.done)
	if d.cancel != nil {
		d.cancel()
	}
	return true
}

// nextSDPVersion bumps the origin version for a new offer
func (d *dialog) nextSDPVersion() uint64 {
	d.sdpVersion++
	return d.sdpVersion
}

// request builds an in-dialog request (BYE, re-INVITE, INFO). From and To
// are swapped for dialogs the far end created.
func (d *dialog) request(method sip.RequestMethod, localContact sip.Uri) *sip.Request {
	req := sip.NewRequest(method, d.remoteTarget)

	if len(d.invite.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", d.invite, req)
	}

	from, to := d.invite.From(), d.invite.To()
	if d.direction == call.DirectionIncoming {
		local := sip.NewParams()
		local.Add("tag", d.localTag)
		req.AppendHeader(&sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: local})
		req.AppendHeader(&sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
	} else {
		remote := sip.NewParams()
		if d.remoteTag != "" {
			remote.Add("tag", d.remoteTag)
		}
		req.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
		req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: remote})
	}

	callID := sip.CallIDHeader(d.sipCallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq.Add(1), MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: localContact})
	return req
}

// withSDP attaches an SDP body
func withSDP(req *sip.Request, body []byte) *sip.Request {
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody(body)
	return req
}

// dtmfInfo builds a SIP INFO carrying one digit (application/dtmf-relay)
func (d *dialog) dtmfInfo(localContact sip.Uri, digit rune, durationMs int) *sip.Request {
	req := d.request(sip.INFO, localContact)
	ct := sip.ContentTypeHeader("application/dtmf-relay")
	req.AppendHeader(&ct)
	req.SetBody(dtmfRelayBody(digit, durationMs))
	return req
}

func dtmfRelayBody(digit rune, durationMs int) []byte {
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", digit, durationMs))
}

// buildCANCEL cancels an INVITE still waiting for its final response
func buildCANCEL(invite *sip.Request) *sip.Request {
	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, req)
	sip.CopyHeaders("From", invite, req)
	sip.CopyHeaders("To", invite, req)
	sip.CopyHeaders("Call-ID", invite, req)
	if cseq := invite.CSeq(); cseq != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

// buildACK acknowledges a 2xx answer to invite. The Request-URI is the
// remote target from the answer.
func buildACK(invite *sip.Request, resp *sip.Response) *sip.Request {
	target := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		target = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, target)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	dest := resp.Source()
	if dest == "" {
		port := target.Port
		if port == 0 {
			port = 5060
		}
		dest = fmt.Sprintf("%s:%d", target.Host, port)
	}
	ack.SetDestination(dest)
	return ack
}

// respond builds a response carrying our To tag, so every response of an
// inbound dialog names the same local end.
func (d *dialog) respond(code sip.StatusCode, reason string, body []byte) *sip.Response {
	resp := sip.NewResponseFromRequest(d.invite, code, reason, body)
	if to := resp.To(); to != nil && code != sip.StatusTrying {
		if to.Params == nil {
			to.Params = sip.HeaderParams{}
		}
		to.Params.Add("tag", d.localTag)
	}
	return resp
}

func generateCallID() string {
	return uuid.New().String()
}

func generateTag() string {
	return uuid.New().String()[:8]
}
