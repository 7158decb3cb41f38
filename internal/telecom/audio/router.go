// Package audio owns the call audio route, mute and focus. The Router is
// a listener on the orchestrator and re-derives its state from calls and
// peripherals whenever either changes.
package audio

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// Calls is the view of the orchestrator the router needs
type Calls interface {
	ForegroundCall() *call.Call
	CallCount() int
	FirstCallWithState(states ...call.State) *call.Call
	HasEmergencyCall() bool
	// OnAudioStateChanged fans the new audio state out to the orchestrator's listeners
	OnAudioStateChanged(old, new call.AudioState)
}

// WiredHeadset reports the wired headset plug state
type WiredHeadset interface {
	IsPluggedIn() bool
}

// Bluetooth is the router's view of the Bluetooth monitor
type Bluetooth interface {
	IsAvailable() bool
	IsAudioConnected() bool
	IsAudioConnectedOrPending() bool
	ConnectAudio()
	DisconnectAudio()
}

// Status is a point-in-time view of the router for diagnostics
type Status struct {
	State          call.AudioState
	Focus          Stream
	Ringing        bool
	TonePlaying    bool
	WasSpeakerOn   bool
	MostRecentMode Mode
}

// Router selects the audio route and mode for calls.
//
// Thread Safety: none. Every method runs under the orchestrator's lock;
// hardware requests are handed to Hardware and never block.
type Router struct {
	calls Calls
	hw    Hardware
	wired WiredHeadset
	bt    Bluetooth

	state          call.AudioState
	focus          Stream
	isRinging      bool
	isTonePlaying  bool
	wasSpeakerOn   bool
	mostRecentMode Mode
	speedUpCallID  string
}

// NewRouter creates a router with the initial route for no calls and no focus
func NewRouter(calls Calls, hw Hardware, wired WiredHeadset, bt Bluetooth) *Router {
	r := &Router{
		calls:          calls,
		hw:             hw,
		wired:          wired,
		bt:             bt,
		focus:          StreamNone,
		mostRecentMode: ModeInCall,
	}
	r.state = r.initialAudioState(nil)
	return r
}

// State returns the current audio state
func (r *Router) State() call.AudioState {
	return r.state
}

// Status returns the router's full state for diagnostics
func (r *Router) Status() Status {
	return Status{
		State:          r.state,
		Focus:          r.focus,
		Ringing:        r.isRinging,
		TonePlaying:    r.isTonePlaying,
		WasSpeakerOn:   r.wasSpeakerOn,
		MostRecentMode: r.mostRecentMode,
	}
}

// IsBluetoothAudioOn reports whether call audio is on a Bluetooth headset
func (r *Router) IsBluetoothAudioOn() bool {
	return r.bt.IsAudioConnected()
}

// IsBluetoothDeviceAvailable reports whether a Bluetooth headset is connected
func (r *Router) IsBluetoothDeviceAvailable() bool {
	return r.bt.IsAvailable()
}

// OnEvent implements call.Listener
func (r *Router) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.CallAdded:
		r.onCallAdded(c)
	case call.CallRemoved:
		r.onCallRemoved(c)
	case call.StateChanged:
		r.onCallUpdated(c)
	case call.ForegroundChanged:
		r.onCallUpdated(e.New)
		r.updateAudioForForegroundCall()
	case call.IncomingCallAnswered:
		r.onIncomingCallAnswered(c)
	case call.VoipAudioModeChanged:
		r.updateAudioStreamAndMode(c)
	}
}

func (r *Router) onCallAdded(c *call.Call) {
	r.onCallUpdated(c)

	// A new outgoing call starts unmuted.
	if r.hasFocus() && r.foregroundCall() == c && !c.IsIncoming() {
		r.setSystemAudioState(false, false, r.state.Route, r.state.SupportedRoutes)
	}
}

func (r *Router) onCallRemoved(c *call.Call) {
	if !r.hasFocus() {
		return
	}
	if r.calls.CallCount() == 0 {
		slog.Debug("[Router] All calls removed, resetting audio to default state")
		r.setInitialAudioState(nil, false)
		r.wasSpeakerOn = false
	}
	r.updateAudioStreamAndMode(c)
}

func (r *Router) onIncomingCallAnswered(c *call.Call) {
	route := r.state.Route

	// The first call moves to Bluetooth when a headset is around.
	if r.calls.CallCount() == 1 && r.bt.IsAvailable() {
		r.bt.ConnectAudio()
		route = call.RouteBluetooth
	}
	r.setSystemAudioState(false, false, route, r.state.SupportedRoutes)

	if c != nil && c.Can(call.CapSpeedUpAudio) {
		slog.Debug("[Router] Speeding up audio setup for answered call", "call_id", c.ID())
		r.speedUpCallID = c.ID()
		r.updateAudioStreamAndMode(c)
	}
}

func (r *Router) onCallUpdated(c *call.Call) {
	r.updateAudioStreamAndMode(c)
	if c != nil && c.State() == call.StateActive && c.ID() == r.speedUpCallID {
		r.speedUpCallID = ""
	}
}

// OnWiredHeadsetPluggedChanged follows a headset plug or unplug. The
// supported routes are republished even when the route stays the same.
func (r *Router) OnWiredHeadsetPluggedChanged(_, pluggedIn bool) {
	if !r.hasFocus() {
		return
	}

	newRoute := r.state.Route
	if pluggedIn {
		newRoute = call.RouteWiredHeadset
	} else if r.state.Route == call.RouteWiredHeadset {
		if fg := r.foregroundCall(); fg != nil && fg.IsAlive() {
			// Never fall back to Bluetooth; the user picks it again explicitly.
			if r.wasSpeakerOn {
				newRoute = call.RouteSpeaker
			} else {
				newRoute = call.RouteEarpiece
			}
		}
	}
	r.setSystemAudioState(false, r.state.Muted, newRoute, r.calculateSupportedRoutes())
}

// OnDockChanged moves earpiece audio to the speaker on dock and back on undock
func (r *Router) OnDockChanged(docked bool) {
	if !r.hasFocus() {
		return
	}
	if docked {
		if r.state.Route == call.RouteEarpiece {
			r.SetAudioRoute(call.RouteSpeaker)
		}
		return
	}
	if r.state.Route == call.RouteSpeaker {
		r.SetAudioRoute(call.RouteWiredOrEarpiece)
	}
}

// OnBluetoothStateChanged follows Bluetooth headset and audio link changes
func (r *Router) OnBluetoothStateChanged() {
	if !r.hasFocus() {
		return
	}

	supported := r.calculateSupportedRoutes()
	newRoute := r.state.Route
	if r.bt.IsAudioConnectedOrPending() {
		newRoute = call.RouteBluetooth
	} else if r.state.Route == call.RouteBluetooth {
		newRoute = selectWiredOrEarpiece(call.RouteWiredOrEarpiece, supported)
		r.wasSpeakerOn = false
	}
	r.setSystemAudioState(false, r.state.Muted, newRoute, supported)
}

// ToggleMute flips the microphone mute
func (r *Router) ToggleMute() {
	r.Mute(!r.state.Muted)
}

// Mute sets the microphone mute. Mute is refused while an emergency call exists.
func (r *Router) Mute(shouldMute bool) {
	if !r.hasFocus() {
		return
	}
	if shouldMute && r.calls.HasEmergencyCall() {
		slog.Info("[Router] Ignoring mute during emergency call")
		shouldMute = false
	}
	if r.state.Muted != shouldMute {
		r.setSystemAudioState(false, shouldMute, r.state.Route, r.state.SupportedRoutes)
	}
}

// SetAudioRoute switches to route. RouteWiredOrEarpiece resolves to
// whichever of the two is present; unsupported routes are ignored.
func (r *Router) SetAudioRoute(route call.Route) {
	if !r.hasFocus() {
		return
	}

	newRoute := selectWiredOrEarpiece(route, r.state.SupportedRoutes)
	if r.state.SupportedRoutes&newRoute == 0 {
		slog.Warn("[Router] Ignoring unsupported route", "route", newRoute.String(),
			"supported", r.state.SupportedRoutes.String())
		return
	}
	if r.state.Route != newRoute {
		r.wasSpeakerOn = newRoute == call.RouteSpeaker
		r.setSystemAudioState(false, r.state.Muted, newRoute, r.state.SupportedRoutes)
	}
}

// SetIsRinging is called by the ringer when it starts or stops ringing
func (r *Router) SetIsRinging(c *call.Call, ringing bool) {
	if r.isRinging == ringing {
		return
	}
	slog.Info("[Router] Ringing changed", "ringing", ringing)
	r.isRinging = ringing
	r.updateAudioStreamAndMode(c)
}

// SetIsTonePlaying keeps focus while an in-call tone outlives its call
func (r *Router) SetIsTonePlaying(playing bool) {
	if r.isTonePlaying == playing {
		return
	}
	slog.Debug("[Router] Tone playing changed", "playing", playing)
	r.isTonePlaying = playing
	r.updateAudioStreamAndMode(nil)
}

func (r *Router) updateAudioStreamAndMode(c *call.Call) {
	wasVoiceCall := r.focus == StreamVoiceCall

	if r.isRinging {
		r.requestFocusAndSetMode(StreamRing, ModeRingtone)
	} else {
		fg := r.foregroundCall()
		waitingForAccount := r.calls.FirstCallWithState(call.StateSelectAccount)
		orchFG := r.calls.ForegroundCall()

		switch {
		case fg == nil && orchFG != nil && orchFG.ID() == r.speedUpCallID:
			r.requestFocusAndSetMode(StreamVoiceCall, ModeInCall)
		case fg != nil && waitingForAccount == nil:
			mode := ModeInCall
			if fg.IsVoipAudioMode() {
				mode = ModeInCommunication
			}
			r.requestFocusAndSetMode(StreamVoiceCall, mode)
		case r.isTonePlaying:
			// No call to take the mode from.
			r.requestFocusAndSetMode(StreamVoiceCall, r.mostRecentMode)
		case !r.hasRingingForegroundCall():
			r.abandonFocus()
		default:
			// A RINGING foreground call keeps focus until it answers or ends.
		}
	}

	if !wasVoiceCall && r.focus == StreamVoiceCall {
		r.setInitialAudioState(c, true)
	}
}

func (r *Router) requestFocusAndSetMode(stream Stream, mode Mode) {
	if r.focus != stream {
		slog.Info("[Router] Requesting focus", "from", r.focus.String(), "to", stream.String())
		r.hw.RequestFocus(stream)
	}
	r.focus = stream
	r.setMode(mode)
}

func (r *Router) abandonFocus() {
	if !r.hasFocus() {
		return
	}
	r.setMode(ModeNormal)
	slog.Info("[Router] Abandoning focus")
	r.hw.AbandonFocus()
	r.focus = StreamNone
	r.speedUpCallID = ""
}

func (r *Router) setMode(mode Mode) {
	r.mostRecentMode = mode
	r.hw.SetMode(mode)
}

func (r *Router) setInitialAudioState(c *call.Call, force bool) {
	s := r.initialAudioState(c)
	slog.Debug("[Router] Setting initial audio state", "state", s.String())
	r.setSystemAudioState(force, s.Muted, s.Route, s.SupportedRoutes)
}

// setSystemAudioState stores the new state and pushes it to the hardware
// when it changed or force is set.
func (r *Router) setSystemAudioState(force, muted bool, route, supported call.Route) {
	if !r.hasFocus() {
		return
	}

	old := r.state
	r.state = call.AudioState{Muted: muted, Route: route, SupportedRoutes: supported}
	if !force && old == r.state {
		return
	}
	slog.Info("[Router] Audio state changed", "from", old.String(), "to", r.state.String())

	r.hw.SetMicrophoneMute(muted)
	switch route {
	case call.RouteBluetooth:
		r.hw.SetSpeakerphoneOn(false)
		r.turnOnBluetooth(true)
	case call.RouteSpeaker:
		r.turnOnBluetooth(false)
		r.hw.SetSpeakerphoneOn(true)
	case call.RouteEarpiece, call.RouteWiredHeadset:
		r.turnOnBluetooth(false)
		r.hw.SetSpeakerphoneOn(false)
	}

	if old != r.state {
		r.calls.OnAudioStateChanged(old, r.state)
		r.updateAudioForForegroundCall()
	}
}

func (r *Router) turnOnBluetooth(on bool) {
	if !r.bt.IsAvailable() {
		return
	}
	if on == r.bt.IsAudioConnectedOrPending() {
		return
	}
	slog.Info("[Router] Switching Bluetooth audio", "on", on)
	if on {
		r.bt.ConnectAudio()
	} else {
		r.bt.DisconnectAudio()
	}
}

func (r *Router) updateAudioForForegroundCall() {
	if fg := r.calls.ForegroundCall(); fg != nil {
		fg.OnAudioStateChanged(r.state)
	}
}

func (r *Router) calculateSupportedRoutes() call.Route {
	mask := call.RouteSpeaker
	if r.wired.IsPluggedIn() {
		mask |= call.RouteWiredHeadset
	} else {
		mask |= call.RouteEarpiece
	}
	if r.bt.IsAvailable() {
		mask |= call.RouteBluetooth
	}
	return mask
}

// initialAudioState is unmuted on wired-or-earpiece, or on Bluetooth when
// a headset is available and c is connected or about to be.
func (r *Router) initialAudioState(c *call.Call) call.AudioState {
	supported := r.calculateSupportedRoutes()
	route := selectWiredOrEarpiece(call.RouteWiredOrEarpiece, supported)

	if c != nil && r.bt.IsAvailable() {
		switch c.State() {
		case call.StateActive, call.StateOnHold, call.StateDialing, call.StateConnecting, call.StateRinging:
			route = call.RouteBluetooth
		}
	}
	return call.AudioState{Muted: false, Route: route, SupportedRoutes: supported}
}

// foregroundCall ignores a RINGING foreground call; ringing is driven by the ringer
func (r *Router) foregroundCall() *call.Call {
	fg := r.calls.ForegroundCall()
	if fg != nil && fg.State() == call.StateRinging {
		return nil
	}
	return fg
}

func (r *Router) hasRingingForegroundCall() bool {
	fg := r.calls.ForegroundCall()
	return fg != nil && fg.State() == call.StateRinging
}

func (r *Router) hasFocus() bool {
	return r.focus != StreamNone
}

// selectWiredOrEarpiece resolves the wildcard to the one of the two that is
// supported. Exactly one is always present; earpiece is assumed otherwise.
func selectWiredOrEarpiece(route, supported call.Route) call.Route {
	if route != call.RouteWiredOrEarpiece {
		return route
	}
	route = call.RouteWiredOrEarpiece & supported
	if route == 0 {
		slog.Error("[Router] Neither wired headset nor earpiece is supported")
		return call.RouteEarpiece
	}
	return route
}
