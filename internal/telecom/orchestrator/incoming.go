package orchestrator

import (
	"context"
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// ExtraIncomingAddress is the extra a backend may set to announce the
// caller's address before the connection exists.
const ExtraIncomingAddress = "incoming_address"

// ProcessIncomingCall creates a call for a network announcement on acct and
// starts its connection. The call joins the set once the backend accepts
// it and the caller lookup is done.
func (o *Orchestrator) ProcessIncomingCall(acct account.Handle, extras map[string]string) *call.Call {
	var opts []call.Option
	if h := extras[ExtraIncomingAddress]; h != "" {
		opts = append(opts, call.WithHandle(call.Address(h)))
	}
	c := o.arena.NewCall(call.DirectionIncoming, opts...)
	c.SetTargetAccount(acct)
	c.SetExtras(extras)
	o.listen(c)

	slog.Info("[Orchestrator] Processing incoming call", "call_id", c.ID(), "account", acct.String())
	o.processor.Start(c)
	return c
}

// AddNewUnknownCall creates a call for a connection found on the network
// that neither side is known to have placed.
func (o *Orchestrator) AddNewUnknownCall(acct account.Handle, extras map[string]string) *call.Call {
	var opts []call.Option
	if h := extras[ExtraIncomingAddress]; h != "" {
		opts = append(opts, call.WithHandle(call.Address(h)))
	}
	c := o.arena.NewCall(call.DirectionUnknown, opts...)
	c.SetIsUnknown(true)
	c.SetTargetAccount(acct)
	c.SetExtras(extras)
	o.listen(c)

	slog.Info("[Orchestrator] Adding unknown call", "call_id", c.ID(), "account", acct.String())
	o.processor.Start(c)
	return c
}

// onSuccessfulIncoming runs the caller lookup off the lock, bounded by the
// direct-to-voicemail timeout, then finishes admission under the lock.
func (o *Orchestrator) onSuccessfulIncoming(c *call.Call) {
	if o.voicemail == nil || o.cfg.DirectToVoicemail <= 0 {
		o.finishIncoming(c, false)
		return
	}
	handle := c.Handle()
	filter := o.voicemail
	timeout := o.cfg.DirectToVoicemail
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		toVoicemail := filter.ShouldSendToVoicemail(ctx, handle)
		if ctx.Err() != nil {
			toVoicemail = false
		}
		o.Do(func() { o.finishIncoming(c, toVoicemail) })
	}()
}

func (o *Orchestrator) finishIncoming(c *call.Call, toVoicemail bool) {
	if c.IsDestroyed() || c.State().IsTerminal() {
		return
	}
	// The service may have died during the lookup, before the call joined the set.
	if conn := c.Connection(); conn != nil && o.services.Service(c.ConnectionID()) != conn {
		slog.Warn("[Orchestrator] Incoming call lost its connection service", "call_id", c.ID(), "component_id", c.ConnectionID())
		o.MarkCallAsDisconnected(c, call.NewDisconnectCause(call.DisconnectError))
		o.MarkCallAsRemoved(c)
		return
	}
	o.setCallState(c, call.StateRinging)
	if toVoicemail {
		slog.Info("[Orchestrator] Directing call to voicemail", "call_id", c.ID())
		c.Reject(false, "")
		o.logMissed(c)
		return
	}
	if o.countTopLevel(call.StateRinging) >= o.cfg.MaxRingingCalls {
		slog.Info("[Orchestrator] Rejecting incoming call, too many ringing calls", "call_id", c.ID())
		c.Reject(false, "")
		o.logMissed(c)
		return
	}
	o.addCall(c)
}

func (o *Orchestrator) logMissed(c *call.Call) {
	if o.missed != nil {
		o.missed.LogMissed(c)
	}
}

// AnswerCall answers a ringing call. An active or dialing foreground call is
// put on hold first, or disconnected when it cannot hold and lives on
// another backend.
func (o *Orchestrator) AnswerCall(id string, videoState call.VideoState) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State() != call.StateRinging {
		return &StateError{CallID: id, Op: "answer", State: c.State()}
	}

	if fg := o.foreground; fg != nil && fg != c && (fg.IsActive() || fg.State() == call.StateDialing) {
		if !fg.Can(call.CapHold) {
			if fg.ConnectionID() != c.ConnectionID() {
				slog.Info("[Orchestrator] Disconnecting call that cannot hold", "call_id", fg.ID())
				fg.Disconnect()
			}
		} else {
			if held := o.FirstCallWithState(call.StateOnHold); held != nil {
				slog.Info("[Orchestrator] Disconnecting held call before holding active call", "call_id", held.ID())
				held.Disconnect()
			}
			slog.Info("[Orchestrator] Holding call before answering", "call_id", fg.ID(), "incoming", id)
			fg.Hold()
		}
	}

	o.notify(c, call.IncomingCallAnswered{})
	c.Answer(videoState)
	if o.isSpeakerphoneAutoEnabled(videoState) {
		c.SetStartWithSpeakerphoneOn(true)
	}
	return nil
}

// RejectCall declines a ringing call, optionally with a text reply
func (o *Orchestrator) RejectCall(id string, withMessage bool, text string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State() != call.StateRinging {
		return &StateError{CallID: id, Op: "reject", State: c.State()}
	}
	o.notify(c, call.IncomingCallRejected{WithMessage: withMessage, Text: text})
	c.Reject(withMessage, text)
	return nil
}
