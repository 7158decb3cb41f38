package orchestrator

import (
	"log/slog"
	"slices"

	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// listen subscribes the orchestrator to c's own events
func (o *Orchestrator) listen(c *call.Call) {
	o.unlisten[c.ID()] = c.AddListener(call.ListenerFunc(o.onCallEvent))
}

// onCallEvent handles connection results and relays the other events of
// calls in the set to the orchestrator's listeners. State changes are
// relayed by setCallState.
func (o *Orchestrator) onCallEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.SuccessfulOutgoing:
		o.onSuccessfulOutgoing(c, e.State)
	case call.FailedOutgoing:
		o.onFailedOutgoing(c, e.Cause)
	case call.SuccessfulIncoming:
		o.onSuccessfulIncoming(c)
	case call.SuccessfulUnknown:
		o.setCallState(c, e.State)
		o.addCall(c)
	case call.FailedIncoming:
		o.MarkCallAsDisconnected(c, e.Cause)
		o.MarkCallAsRemoved(c)
	case call.FailedUnknown:
		o.MarkCallAsDisconnected(c, e.Cause)
		o.MarkCallAsRemoved(c)
	case call.StateChanged:
	case call.ParentChanged, call.ChildrenChanged:
		if !o.isTracked(c) {
			return
		}
		o.notify(c, ev)
		o.notify(c, call.IsConferencedChanged{})
		o.updateState()
	default:
		if o.isTracked(c) {
			o.notify(c, ev)
		}
	}
}

func (o *Orchestrator) onSuccessfulOutgoing(c *call.Call, s call.State) {
	slog.Info("[Orchestrator] Outgoing call connected to backend", "call_id", c.ID(), "state", s.String())
	o.setCallState(c, s)
	if !o.isTracked(c) {
		// MMI codes are added only once the network made a call of them.
		o.addCall(c)
	}
	if s == call.StateDialing || s == call.StateActive {
		o.maybeMoveToSpeakerphone(c)
	}
}

// onFailedOutgoing ends a call that could not be placed. A call the user
// withdrew is ABORTED; any other failure is DISCONNECTED with its cause.
func (o *Orchestrator) onFailedOutgoing(c *call.Call, cause call.DisconnectCause) {
	slog.Info("[Orchestrator] Outgoing call failed", "call_id", c.ID(), "cause", cause.String())
	if c.IsLocallyDisconnecting() || cause.Code == call.DisconnectCanceled {
		o.setCallState(c, call.StateAborted)
	} else {
		o.MarkCallAsDisconnected(c, cause)
	}
	o.MarkCallAsRemoved(c)
}

func (o *Orchestrator) maybeMoveToSpeakerphone(c *call.Call) {
	if !c.StartWithSpeakerphoneOn() {
		return
	}
	o.router.SetAudioRoute(call.RouteSpeaker)
	c.SetStartWithSpeakerphoneOn(false)
}

// setCallState moves c to s and, for calls in the set, tells listeners
// and refreshes the foreground call and canAddCall.
func (o *Orchestrator) setCallState(c *call.Call, s call.State) {
	old := c.State()
	if old == s {
		return
	}
	c.SetState(s)
	if !o.isTracked(c) {
		return
	}
	o.notify(c, call.StateChanged{Old: old, New: s})
	o.updateState()
}

func (o *Orchestrator) addCall(c *call.Call) {
	if o.isTracked(c) {
		return
	}
	o.calls = append(o.calls, c)
	slog.Debug("[Orchestrator] Call added", "call_id", c.ID(), "state", c.State().String(), "calls", len(o.calls))
	o.notify(c, call.CallAdded{})
	o.updateState()
}

func (o *Orchestrator) removeCall(c *call.Call) {
	tracked := o.isTracked(c)
	if tracked {
		o.calls = slices.DeleteFunc(o.calls, func(x *call.Call) bool { return x == c })
	}
	o.dropPendingDisconnect(c)
	delete(o.placed, c.ID())
	if unlisten, ok := o.unlisten[c.ID()]; ok {
		unlisten()
		delete(o.unlisten, c.ID())
	}
	c.Destroy()

	if !tracked {
		return
	}
	slog.Debug("[Orchestrator] Call removed", "call_id", c.ID(), "calls", len(o.calls))
	o.notify(c, call.CallRemoved{})
	o.updateState()
}

// MarkCallAsRinging records that the backend is alerting the user
func (o *Orchestrator) MarkCallAsRinging(c *call.Call) {
	o.setCallState(c, call.StateRinging)
}

// MarkCallAsDialing records that the far end is being alerted
func (o *Orchestrator) MarkCallAsDialing(c *call.Call) {
	o.setCallState(c, call.StateDialing)
	o.maybeMoveToSpeakerphone(c)
}

// MarkCallAsActive records that the call is connected
func (o *Orchestrator) MarkCallAsActive(c *call.Call) {
	o.setCallState(c, call.StateActive)
	o.maybeMoveToSpeakerphone(c)
}

// MarkCallAsOnHold records that the call is held
func (o *Orchestrator) MarkCallAsOnHold(c *call.Call) {
	o.setCallState(c, call.StateOnHold)
}

// MarkCallAsDisconnected sets the cause and moves the call to DISCONNECTED
func (o *Orchestrator) MarkCallAsDisconnected(c *call.Call, cause call.DisconnectCause) {
	c.SetDisconnectCause(cause)
	o.setCallState(c, call.StateDisconnected)
}

// MarkCallAsRemoved drops the call from the set and destroys it. When the
// user hung it up, a held foreground call is resumed.
func (o *Orchestrator) MarkCallAsRemoved(c *call.Call) {
	o.removeCall(c)
	if !o.locallyDisconnecting[c.ID()] {
		return
	}
	delete(o.locallyDisconnecting, c.ID())
	if fg := o.foreground; fg != nil && fg.State() == call.StateOnHold {
		slog.Info("[Orchestrator] Resuming held call after local hangup", "call_id", fg.ID())
		fg.Unhold()
	}
}

// HandleConnectionServiceDeath ends every call that lived on svc
func (o *Orchestrator) HandleConnectionServiceDeath(svc backend.ConnectionService) {
	if svc == nil {
		return
	}
	slog.Warn("[Orchestrator] Connection service died", "component_id", svc.ID())
	for _, c := range o.Calls() {
		if c.ConnectionID() != svc.ID() {
			continue
		}
		if c.State() != call.StateDisconnected {
			o.MarkCallAsDisconnected(c, call.NewDisconnectCause(call.DisconnectError))
		}
		o.MarkCallAsRemoved(c)
	}
}

// CreateConferenceCall adds a conference the backend formed on its own
func (o *Orchestrator) CreateConferenceCall(svc backend.ConnectionService, id string, d backend.Result) *call.Call {
	if existing := o.lookup(id); existing != nil {
		slog.Warn("[Orchestrator] Conference already exists", "call_id", id)
		return existing
	}
	c := o.arena.NewCall(call.DirectionOutgoing, call.WithConference(), call.WithID(id))
	o.listen(c)
	c.SetTargetAccount(d.Account)
	c.SetConnection(svc)
	c.SetState(d.State)
	c.SetCapabilities(d.Capabilities)
	c.SetVideoState(d.VideoState)

	slog.Info("[Orchestrator] Conference call created", "call_id", id, "component_id", svc.ID(), "state", d.State.String())
	o.addCall(c)
	return c
}

// CreateCallForExistingConnection adds a call the backend already carries,
// such as one handed over from another device.
func (o *Orchestrator) CreateCallForExistingConnection(svc backend.ConnectionService, id string, d backend.Result) *call.Call {
	if existing := o.lookup(id); existing != nil {
		slog.Warn("[Orchestrator] Call already exists", "call_id", id)
		return existing
	}
	c := o.arena.NewCall(call.DirectionOutgoing, call.WithHandle(d.Handle), call.WithID(id))
	o.listen(c)
	c.SetTargetAccount(d.Account)
	c.SetConnection(svc)
	c.SetState(d.State)
	c.SetCapabilities(d.Capabilities)
	c.SetCallerDisplayName(d.CallerDisplayName, d.CallerDisplayNamePresentation)

	slog.Info("[Orchestrator] Existing connection added", "call_id", id, "component_id", svc.ID(), "state", d.State.String())
	o.addCall(c)
	return c
}
