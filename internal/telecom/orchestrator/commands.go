package orchestrator

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// MediaButton is a press of the headset hook button
type MediaButton int

const (
	MediaButtonShortPress MediaButton = iota
	MediaButtonLongPress
)

func (b MediaButton) String() string {
	switch b {
	case MediaButtonShortPress:
		return "short"
	case MediaButtonLongPress:
		return "long"
	default:
		return "unknown"
	}
}

// DisconnectCall hangs up a call on the user's behalf
func (o *Orchestrator) DisconnectCall(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State().IsTerminal() {
		return &StateError{CallID: id, Op: "disconnect", State: c.State()}
	}
	o.locallyDisconnecting[id] = true
	c.Disconnect()
	return nil
}

// HoldCall puts an active call on hold
func (o *Orchestrator) HoldCall(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State() != call.StateActive {
		return &StateError{CallID: id, Op: "hold", State: c.State()}
	}
	c.Hold()
	return nil
}

// UnholdCall resumes a held call after holding every other live top-level call
func (o *Orchestrator) UnholdCall(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	if c.State() != call.StateOnHold {
		return &StateError{CallID: id, Op: "unhold", State: c.State()}
	}
	for _, other := range o.Calls() {
		if other == c || other.ParentID() != "" || !other.IsActive() {
			continue
		}
		other.Hold()
	}
	c.Unhold()
	return nil
}

// MuteCall mutes or unmutes the microphone
func (o *Orchestrator) MuteCall(muted bool) {
	o.router.Mute(muted)
}

// ToggleMute flips the microphone mute
func (o *Orchestrator) ToggleMute() {
	o.router.ToggleMute()
}

// SetAudioRoute switches the audio route
func (o *Orchestrator) SetAudioRoute(route call.Route) {
	o.router.SetAudioRoute(route)
}

// PlayDTMFTone sends digit on the call and plays it locally
func (o *Orchestrator) PlayDTMFTone(id string, digit rune) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.PlayDTMF(digit)
	if o.dtmf != nil {
		o.dtmf.PlayTone(c, digit)
	}
	return nil
}

// StopDTMFTone stops the current digit on the call
func (o *Orchestrator) StopDTMFTone(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.StopDTMF()
	if o.dtmf != nil {
		o.dtmf.StopTone(c)
	}
	return nil
}

// PostDialContinue resumes or cancels post-dial digits paused at a wait
func (o *Orchestrator) PostDialContinue(id string, proceed bool) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.PostDialContinue(proceed)
	return nil
}

// Conference asks the backend to merge two calls
func (o *Orchestrator) Conference(id, otherID string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	other := o.Call(otherID)
	if other == nil {
		return unknownCall(otherID)
	}
	c.ConferenceWith(other)
	return nil
}

// SplitFromConference asks the backend to take a call out of its conference
func (o *Orchestrator) SplitFromConference(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.Split()
	return nil
}

// MergeConference asks the backend to merge a conference's calls
func (o *Orchestrator) MergeConference(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.Merge()
	return nil
}

// SwapConference asks the backend to swap the active call of a conference
func (o *Orchestrator) SwapConference(id string) error {
	c := o.Call(id)
	if c == nil {
		return unknownCall(id)
	}
	c.Swap()
	return nil
}

// TurnOnProximitySensor is accepted for interface compatibility; there is
// no sensor to drive.
func (o *Orchestrator) TurnOnProximitySensor() {
	slog.Debug("[Orchestrator] Proximity sensor on requested")
}

// TurnOffProximitySensor is accepted for interface compatibility
func (o *Orchestrator) TurnOffProximitySensor(screenOnImmediately bool) {
	slog.Debug("[Orchestrator] Proximity sensor off requested", "screen_on_immediately", screenOnImmediately)
}

// OnMediaButton handles the headset hook. A short press answers the
// ringing call or toggles mute; a long press hangs up the most relevant
// call. It reports whether the press was consumed.
func (o *Orchestrator) OnMediaButton(b MediaButton) bool {
	if len(o.calls) == 0 {
		return false
	}
	switch b {
	case MediaButtonShortPress:
		if ringing := o.FirstCallWithState(call.StateRinging); ringing != nil {
			if err := o.AnswerCall(ringing.ID(), ringing.VideoState()); err != nil {
				slog.Warn("[Orchestrator] Media button answer failed", "call_id", ringing.ID(), "error", err)
			}
			return true
		}
		o.router.ToggleMute()
		return true
	case MediaButtonLongPress:
		target := o.FirstCallWithState(call.StateRinging, call.StateDialing, call.StateActive, call.StateOnHold)
		if target == nil {
			return false
		}
		slog.Info("[Orchestrator] Media button long press, hanging up", "call_id", target.ID())
		if err := o.DisconnectCall(target.ID()); err != nil {
			slog.Warn("[Orchestrator] Media button hangup failed", "call_id", target.ID(), "error", err)
		}
		return true
	}
	return false
}
