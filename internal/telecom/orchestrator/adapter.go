package orchestrator

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
)

var _ backend.Adapter = (*Orchestrator)(nil)

// withCall runs fn under the lock for the call with id. Reports about
// calls that are gone are dropped.
func (o *Orchestrator) withCall(op, id string, fn func(c *call.Call)) {
	o.Do(func() {
		c := o.lookup(id)
		if c == nil {
			slog.Debug("[Orchestrator] Dropping report for unknown call", "op", op, "call_id", id)
			return
		}
		fn(c)
	})
}

func (o *Orchestrator) SetActive(callID string) {
	o.withCall("set_active", callID, o.MarkCallAsActive)
}

func (o *Orchestrator) SetRinging(callID string) {
	o.withCall("set_ringing", callID, o.MarkCallAsRinging)
}

func (o *Orchestrator) SetDialing(callID string) {
	o.withCall("set_dialing", callID, o.MarkCallAsDialing)
}

func (o *Orchestrator) SetOnHold(callID string) {
	o.withCall("set_on_hold", callID, o.MarkCallAsOnHold)
}

// SetDisconnected moves the call to DISCONNECTED unless the processor is
// still placing it and has another account to try.
func (o *Orchestrator) SetDisconnected(callID string, cause call.DisconnectCause) {
	o.withCall("set_disconnected", callID, func(c *call.Call) {
		if o.processor.ContinueAfterDisconnect(c, cause) {
			return
		}
		slog.Info("[Orchestrator] Call disconnected", "call_id", callID, "cause", cause.String())
		o.MarkCallAsDisconnected(c, cause)
	})
}

func (o *Orchestrator) SetRingbackRequested(callID string, on bool) {
	o.withCall("set_ringback", callID, func(c *call.Call) { c.SetRingbackRequested(on) })
}

func (o *Orchestrator) SetCapabilities(callID string, caps call.Capabilities) {
	o.withCall("set_capabilities", callID, func(c *call.Call) {
		c.SetCapabilities(caps)
		o.updateCanAddCall()
	})
}

func (o *Orchestrator) SetVideoState(callID string, v call.VideoState) {
	o.withCall("set_video_state", callID, func(c *call.Call) { c.SetVideoState(v) })
}

func (o *Orchestrator) SetIsVoipAudioMode(callID string, voip bool) {
	o.withCall("set_voip_audio", callID, func(c *call.Call) { c.SetIsVoipAudioMode(voip) })
}

func (o *Orchestrator) SetAddress(callID string, h call.Address, p call.Presentation) {
	o.withCall("set_address", callID, func(c *call.Call) { c.SetHandle(h, p) })
}

func (o *Orchestrator) SetCallerDisplayName(callID, name string, p call.Presentation) {
	o.withCall("set_caller_display_name", callID, func(c *call.Call) { c.SetCallerDisplayName(name, p) })
}

func (o *Orchestrator) SetConferenceableConnections(callID string, ids []string) {
	o.withCall("set_conferenceable", callID, func(c *call.Call) { c.SetConferenceableCalls(ids) })
}

func (o *Orchestrator) OnPostDialWait(callID, remaining string) {
	o.withCall("post_dial_wait", callID, func(c *call.Call) { c.OnPostDialWait(remaining) })
}

func (o *Orchestrator) OnPostDialChar(callID string, ch rune) {
	o.withCall("post_dial_char", callID, func(c *call.Call) { c.OnPostDialChar(ch) })
}

func (o *Orchestrator) OnSessionModifyRequest(callID string, v call.VideoState) {
	o.withCall("session_modify", callID, func(c *call.Call) {
		if o.isTracked(c) {
			o.notify(c, call.SessionModifyRequest{VideoState: v})
		}
	})
}

func (o *Orchestrator) SetIsConferenced(callID, conferenceID string) {
	o.withCall("set_is_conferenced", callID, func(c *call.Call) {
		var parent *call.Call
		if conferenceID != "" {
			if parent = o.lookup(conferenceID); parent == nil {
				slog.Warn("[Orchestrator] Conference not found", "call_id", callID, "conference_id", conferenceID)
				return
			}
		}
		if err := c.SetParentCall(parent); err != nil {
			slog.Warn("[Orchestrator] Failed to set conference parent", "call_id", callID, "error", err)
		}
	})
}

func (o *Orchestrator) AddConferenceCall(svc backend.ConnectionService, conferenceID string, d backend.Result) {
	o.Do(func() { o.CreateConferenceCall(svc, conferenceID, d) })
}

func (o *Orchestrator) AddExistingConnection(svc backend.ConnectionService, callID string, d backend.Result) {
	o.Do(func() { o.CreateCallForExistingConnection(svc, callID, d) })
}

// RemoveCall releases a call the backend has finished with. A call the
// processor moved to another account is still alive and stays.
func (o *Orchestrator) RemoveCall(callID string) {
	o.withCall("remove_call", callID, func(c *call.Call) {
		if !c.State().IsTerminal() {
			slog.Debug("[Orchestrator] Ignoring removal of live call", "call_id", callID, "state", c.State().String())
			return
		}
		o.MarkCallAsRemoved(c)
	})
}

func (o *Orchestrator) IncomingCall(acct account.Handle, extras map[string]string) {
	o.Do(func() { o.ProcessIncomingCall(acct, extras) })
}

func (o *Orchestrator) UnknownCall(acct account.Handle, extras map[string]string) {
	o.Do(func() { o.AddNewUnknownCall(acct, extras) })
}
