package orchestrator

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// StartOutgoingCall creates the call for a dial request, or reuses one
// cancelled moments ago for the same address. The call ends in
// SELECT_ACCOUNT when the user must pick an account, in CONNECTING
// otherwise. Placing it is left to PlaceOutgoingCall.
func (o *Orchestrator) StartOutgoingCall(handle call.Address, requested account.Handle) (*call.Call, error) {
	c, reused := o.reuseOutgoingCall(handle)
	if c == nil {
		c = o.arena.NewCall(call.DirectionOutgoing, call.WithHandle(handle))
		o.listen(c)
	}
	c.SetEmergency(o.isEmergencyNumber(handle))

	scheme := handle.Scheme()
	accounts := o.registrar.CallCapableAccounts(scheme)
	acct := o.resolveOutgoingAccount(requested, accounts, scheme)
	c.SetTargetAccount(acct)

	inCallMMI := handle.IsPotentialInCallMMI() && o.HasActiveOrHoldingCall()
	if !inCallMMI && !reused && !o.makeRoomForOutgoingCall(c, c.IsEmergency()) {
		slog.Info("[Orchestrator] No room for outgoing call", "call_id", c.ID(), "handle", string(handle))
		if o.isTracked(c) {
			c.Disconnect()
		} else {
			o.removeCall(c)
		}
		return nil, fmt.Errorf("%w: %s", ErrAdmissionRejected, handle)
	}

	needsSelection := acct.IsZero() && len(accounts) > 1 && !c.IsEmergency()
	if needsSelection {
		o.setCallState(c, call.StateSelectAccount)
	} else {
		o.setCallState(c, call.StateConnecting)
	}

	slog.Info("[Orchestrator] Outgoing call started",
		"call_id", c.ID(),
		"account", acct.String(),
		"emergency", c.IsEmergency(),
		"select_account", needsSelection,
		"reused", reused,
	)

	// MMI codes go to the network first; they join the set only if a call results.
	if (handle.IsPotentialMMI() || inCallMMI) && !needsSelection {
		return c, nil
	}
	if !o.isTracked(c) {
		o.addCall(c)
	}
	return c, nil
}

// resolveOutgoingAccount picks the account for a new call: the requested
// one if it can still place calls, then the account of the active call,
// then the registrar's choice for the scheme.
func (o *Orchestrator) resolveOutgoingAccount(requested account.Handle, accounts []account.Handle, scheme string) account.Handle {
	if !requested.IsZero() && slices.Contains(accounts, requested) {
		return requested
	}
	if active := o.FirstCallWithState(call.StateActive); active != nil {
		if h := active.TargetAccount(); !h.IsZero() && slices.Contains(accounts, h) {
			return h
		}
	}
	return o.registrar.OutgoingAccountForScheme(scheme)
}

// PlaceOutgoingCall sets the final address of a started call and begins
// connecting it once an account is known.
func (o *Orchestrator) PlaceOutgoingCall(id string, handle call.Address, gateway *call.GatewayInfo, speakerphoneOn bool, videoState call.VideoState) error {
	c := o.lookup(id)
	if c == nil {
		return unknownCall(id)
	}
	if s := c.State(); s != call.StateConnecting && s != call.StateSelectAccount {
		return &StateError{CallID: id, Op: "place", State: s}
	}

	target := handle
	if gateway != nil && gateway.GatewayAddress != "" {
		target = gateway.GatewayAddress
	}
	c.SetHandle(target, call.PresentationAllowed)
	c.SetGateway(gateway)
	c.SetStartWithSpeakerphoneOn(speakerphoneOn || o.isSpeakerphoneAutoEnabled(videoState))
	c.SetVideoState(videoState)
	o.placed[id] = true

	emergency := o.isEmergencyNumber(handle)
	c.SetEmergency(emergency)
	if emergency {
		// The processor picks the emergency accounts itself.
		c.SetTargetAccount(account.Handle{})
		o.setCallState(c, call.StateConnecting)
	}

	switch {
	case !c.TargetAccount().IsZero() || emergency:
		if c.State() == call.StateSelectAccount {
			// The account was picked before the call was placed.
			if !o.makeRoomForOutgoingCall(c, false) {
				c.Disconnect()
				return fmt.Errorf("%w: %s", ErrAdmissionRejected, id)
			}
			o.setCallState(c, call.StateConnecting)
		}
		slog.Info("[Orchestrator] Placing outgoing call",
			"call_id", id,
			"gateway", gateway != nil,
			"speakerphone", c.StartWithSpeakerphoneOn(),
			"video", videoState.String(),
		)
		o.processor.Start(c)
	case len(o.registrar.CallCapableAccounts(handle.Scheme())) == 0:
		slog.Warn("[Orchestrator] No account can place call", "call_id", id, "scheme", handle.Scheme())
		cause := call.NewDisconnectCause(call.DisconnectCanceled)
		cause.Reason = "no registered accounts"
		o.MarkCallAsDisconnected(c, cause)
		o.MarkCallAsRemoved(c)
	default:
		slog.Debug("[Orchestrator] Waiting for account selection", "call_id", id)
	}
	return nil
}

// PhoneAccountSelected resumes a call waiting in SELECT_ACCOUNT. With
// setDefault the account also becomes the user's default.
func (o *Orchestrator) PhoneAccountSelected(id string, acct account.Handle, setDefault bool) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State() != call.StateSelectAccount {
		return &StateError{CallID: id, Op: "select_account", State: c.State()}
	}
	c.SetTargetAccount(acct)
	if setDefault {
		o.registrar.SetUserSelectedOutgoingAccount(acct)
	}
	if !o.placed[id] {
		// PlaceOutgoingCall starts it.
		return nil
	}

	if !o.makeRoomForOutgoingCall(c, false) {
		slog.Info("[Orchestrator] No room after account selection", "call_id", id)
		c.Disconnect()
		return fmt.Errorf("%w: %s", ErrAdmissionRejected, id)
	}
	o.setCallState(c, call.StateConnecting)
	o.processor.Start(c)
	return nil
}

// CancelOutgoingCall withdraws a call before it was placed. The call lingers
// for a short window so an immediate redial of the same address reuses it.
func (o *Orchestrator) CancelOutgoingCall(id string) error {
	c := o.lookup(id)
	if c == nil {
		return unknownCall(id)
	}
	if o.placed[id] {
		return &StateError{CallID: id, Op: "cancel", State: c.State()}
	}
	if slices.Contains(o.pendingDisconnect, c) {
		return nil
	}
	o.pendingDisconnect = append(o.pendingDisconnect, c)
	slog.Info("[Orchestrator] Outgoing call cancelled", "call_id", id)
	o.after(o.cfg.NewOutgoingCallCancel, func() {
		if o.dropPendingDisconnect(c) {
			slog.Info("[Orchestrator] Delayed disconnection of call", "call_id", c.ID())
			c.Disconnect()
		}
	})
	return nil
}

// reuseOutgoingCall takes the pending-disconnect call for handle, if any,
// and disconnects the others.
func (o *Orchestrator) reuseOutgoingCall(handle call.Address) (*call.Call, bool) {
	pending := o.pendingDisconnect
	o.pendingDisconnect = nil

	var reused *call.Call
	for _, p := range pending {
		if p.IsDestroyed() {
			continue
		}
		if reused == nil && p.Handle().SameAs(handle) {
			slog.Info("[Orchestrator] Reusing disconnected call", "call_id", p.ID())
			reused = p
			continue
		}
		slog.Info("[Orchestrator] Not reusing disconnected call", "call_id", p.ID())
		p.Disconnect()
	}
	return reused, reused != nil
}

func (o *Orchestrator) dropPendingDisconnect(c *call.Call) bool {
	i := slices.Index(o.pendingDisconnect, c)
	if i < 0 {
		return false
	}
	o.pendingDisconnect = slices.Delete(o.pendingDisconnect, i, i+1)
	return true
}

// makeRoomForOutgoingCall applies the admission policy for c. It may hold
// or disconnect existing calls to make room and reports whether c may
// proceed.
func (o *Orchestrator) makeRoomForOutgoingCall(c *call.Call, emergency bool) bool {
	// c itself may already hold a live state, such as SELECT_ACCOUNT.
	if o.countTopLevelExcept(c, call.LiveStates...) < o.cfg.MaxLiveCalls {
		return true
	}
	live := o.firstCallWithStateExcept(c, call.LiveStates...)
	if live == nil {
		return true
	}

	if o.countTopLevelExcept(c, call.OutgoingStates...) >= o.cfg.MaxOutgoingCalls {
		out := o.firstCallWithStateExcept(c, call.OutgoingStates...)
		if out == nil {
			return false
		}
		if emergency && !out.IsEmergency() {
			slog.Info("[Orchestrator] Disconnecting outgoing call for emergency call", "call_id", out.ID())
			out.Disconnect()
			return true
		}
		if out.State() == call.StateSelectAccount {
			slog.Info("[Orchestrator] Dropping call waiting for account selection", "call_id", out.ID())
			out.Disconnect()
			return true
		}
		return false
	}

	if o.countTopLevel(call.StateOnHold) >= o.cfg.MaxHoldCalls {
		if emergency {
			slog.Info("[Orchestrator] Disconnecting live call for emergency call", "call_id", live.ID())
			live.Disconnect()
			return true
		}
		return false
	}

	if emergency && !live.IsEmergency() {
		slog.Info("[Orchestrator] Disconnecting live call for emergency call", "call_id", live.ID())
		live.Disconnect()
		return true
	}

	liveAccount := live.TargetAccount()
	if liveAccount.IsZero() && live.IsConference() {
		for _, child := range live.Children() {
			if h := child.TargetAccount(); !h.IsZero() {
				liveAccount = h
				break
			}
		}
	}
	// Same account: the backend decides how the two calls coexist.
	if liveAccount == c.TargetAccount() {
		return true
	}
	// No account yet; checked again once the user picks one.
	if c.TargetAccount().IsZero() {
		return true
	}
	if live.Can(call.CapHold) {
		slog.Info("[Orchestrator] Holding live call for outgoing call", "call_id", live.ID())
		live.Hold()
		return true
	}
	return false
}

// isSpeakerphoneAutoEnabled reports whether a video call should start on
// the speaker because no headset is attached.
func (o *Orchestrator) isSpeakerphoneAutoEnabled(v call.VideoState) bool {
	return v.IsVideo() && !o.wired.IsPluggedIn() && !o.bluetooth.IsAvailable()
}
