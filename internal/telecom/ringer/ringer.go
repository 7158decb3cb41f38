// Package ringer alerts the user to incoming calls: the ringtone and
// vibration for the foreground ringing call, or the call-waiting tone when
// another call holds the foreground.
package ringer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// State is the ringer's alerting state
type State int

const (
	StateStopped State = iota
	StateRinging
	StateCallWaiting
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRinging:
		return "RINGING"
	case StateCallWaiting:
		return "CALL_WAITING"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// RingerMode is the device's ringer mode
type RingerMode int

const (
	RingerModeNormal RingerMode = iota
	RingerModeVibrate
	RingerModeSilent
)

// Settings are the user's alerting preferences
type Settings interface {
	RingVolume() int
	RingerMode() RingerMode
	VibrateWhenRinging() bool
}

// ContactFilter decides whether a caller may ring, e.g. under do-not-disturb
type ContactFilter interface {
	ShouldRingFor(handle call.Address) bool
}

// Vibrator drives the vibration motor
type Vibrator interface {
	HasVibrator() bool
	Vibrate()
	Cancel()
}

// RingtonePlayer plays and stops the ringtone without blocking
type RingtonePlayer interface {
	Play(uri string)
	Stop()
}

// ToneStarter starts supervisory tones
type ToneStarter interface {
	Start(t tones.Tone) *tones.Player
}

// Calls is the ringer's view of the orchestrator
type Calls interface {
	ForegroundCall() *call.Call
}

// RingingListener is told when the ringtone starts or stops, so audio
// focus can follow
type RingingListener interface {
	SetIsRinging(c *call.Call, ringing bool)
}

// RingtoneExtra is the call extra naming a custom ringtone uri
const RingtoneExtra = "ringtone"

// Ringer keeps the ordered list of unanswered incoming calls and alerts
// for the first of them.
//
// Thread Safety: none. Every method runs under the orchestrator's lock.
type Ringer struct {
	calls    Calls
	focus    RingingListener
	player   RingtonePlayer
	tones    ToneStarter
	vibrator Vibrator
	settings Settings
	filter   ContactFilter

	ringingCalls      []*call.Call
	state             State
	isVibrating       bool
	callWaitingPlayer *tones.Player
}

// Deps are the collaborators of a Ringer
type Deps struct {
	Calls    Calls
	Focus    RingingListener
	Player   RingtonePlayer
	Tones    ToneStarter
	Vibrator Vibrator
	Settings Settings
	Filter   ContactFilter
}

// New creates a stopped ringer
func New(d Deps) *Ringer {
	if d.Filter == nil {
		d.Filter = AllowAll{}
	}
	return &Ringer{
		calls:    d.Calls,
		focus:    d.Focus,
		player:   d.Player,
		tones:    d.Tones,
		vibrator: d.Vibrator,
		settings: d.Settings,
		filter:   d.Filter,
		state:    StateStopped,
	}
}

// State returns the current alerting state
func (r *Ringer) State() State { return r.state }

// IsVibrating reports whether the vibrator is running
func (r *Ringer) IsVibrating() bool { return r.isVibrating }

// RingingCallIDs returns the unanswered calls, oldest first
func (r *Ringer) RingingCallIDs() []string {
	ids := make([]string, len(r.ringingCalls))
	for i, c := range r.ringingCalls {
		ids[i] = c.ID()
	}
	return ids
}

// OnEvent implements call.Listener
func (r *Ringer) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.CallAdded:
		if c.IsIncoming() && c.State() == call.StateRinging {
			if slices.Contains(r.ringingCalls, c) {
				slog.Error("[Ringer] Ringing call already in unanswered list", "call_id", c.ID())
			}
			r.ringingCalls = append(r.ringingCalls, c)
			r.updateRinging(c)
		}
	case call.CallRemoved:
		r.removeFromUnanswered(c)
	case call.StateChanged:
		if e.New != call.StateRinging {
			r.removeFromUnanswered(c)
		}
	case call.IncomingCallAnswered, call.IncomingCallRejected:
		r.onRespondedToIncomingCall(c)
	case call.ForegroundChanged:
		var ringing *call.Call
		if e.New != nil && slices.Contains(r.ringingCalls, e.New) {
			ringing = e.New
		} else if e.Old != nil && slices.Contains(r.ringingCalls, e.Old) {
			ringing = e.Old
		}
		if ringing != nil {
			r.updateRinging(ringing)
		}
	}
}

// Silence stops alerting for every call currently ringing
func (r *Ringer) Silence() {
	slog.Info("[Ringer] Silencing", "ringing_calls", len(r.ringingCalls))
	r.ringingCalls = nil
	r.updateRinging(nil)
}

// onRespondedToIncomingCall stops alerting only when c is the oldest unanswered call
func (r *Ringer) onRespondedToIncomingCall(c *call.Call) {
	if len(r.ringingCalls) > 0 && r.ringingCalls[0] == c {
		r.removeFromUnanswered(c)
	}
}

func (r *Ringer) removeFromUnanswered(c *call.Call) {
	r.ringingCalls = slices.DeleteFunc(r.ringingCalls, func(o *call.Call) bool { return o == c })
	r.updateRinging(c)
}

func (r *Ringer) updateRinging(c *call.Call) {
	if len(r.ringingCalls) == 0 {
		r.stopRinging(c, "no more ringing calls")
		r.stopCallWaiting(c)
		return
	}
	r.startRingingOrCallWaiting(c)
}

func (r *Ringer) startRingingOrCallWaiting(c *call.Call) {
	fg := r.calls.ForegroundCall()

	if fg != nil && slices.Contains(r.ringingCalls, fg) {
		r.stopCallWaiting(c)

		if !r.filter.ShouldRingFor(fg.Handle()) {
			slog.Info("[Ringer] Contact filtered, not ringing", "call_id", fg.ID())
			return
		}

		if r.settings.RingVolume() > 0 {
			if r.state != StateRinging {
				slog.Info("[Ringer] Start ringer", "call_id", callID(c))
				r.state = StateRinging
			}
			r.focus.SetIsRinging(c, true)
			r.player.Play(fg.Extra(RingtoneExtra))
		} else {
			slog.Debug("[Ringer] Ring volume is zero, not playing ringtone")
		}

		if r.shouldVibrate() && !r.isVibrating {
			r.vibrator.Vibrate()
			r.isVibrating = true
		}
		return
	}

	// The first incoming call is not yet foreground; it rings once promoted.
	if fg == nil {
		return
	}

	slog.Debug("[Ringer] Playing call-waiting tone", "foreground_call_id", fg.ID())
	r.stopRinging(c, "stop for call-waiting")
	if r.state != StateCallWaiting {
		slog.Info("[Ringer] Start call-waiting tone", "call_id", callID(c))
		r.state = StateCallWaiting
	}
	if r.callWaitingPlayer == nil {
		r.callWaitingPlayer = r.tones.Start(tones.ToneCallWaiting)
	}
}

func (r *Ringer) stopRinging(c *call.Call, reason string) {
	if r.state == StateRinging {
		slog.Info("[Ringer] Stop ringer", "call_id", callID(c), "reason", reason)
		r.state = StateStopped
	}
	r.player.Stop()

	if r.isVibrating {
		r.vibrator.Cancel()
		r.isVibrating = false
	}
	r.focus.SetIsRinging(c, false)
}

func (r *Ringer) stopCallWaiting(c *call.Call) {
	if r.callWaitingPlayer != nil {
		r.callWaitingPlayer.Stop()
		r.callWaitingPlayer = nil
	}
	if r.state == StateCallWaiting {
		slog.Info("[Ringer] Stop call-waiting tone", "call_id", callID(c))
		r.state = StateStopped
	}
}

func (r *Ringer) shouldVibrate() bool {
	mode := r.settings.RingerMode()
	if r.vibrator.HasVibrator() && r.settings.VibrateWhenRinging() {
		return mode != RingerModeSilent
	}
	return mode == RingerModeVibrate
}

func callID(c *call.Call) string {
	if c == nil {
		return ""
	}
	return c.ID()
}

// AllowAll lets every caller ring
type AllowAll struct{}

// ShouldRingFor implements ContactFilter
func (AllowAll) ShouldRingFor(call.Address) bool { return true }

// StaticSettings are fixed alerting preferences from configuration
type StaticSettings struct {
	Volume           int
	Mode             RingerMode
	VibrateWhenRings bool
}

func (s StaticSettings) RingVolume() int          { return s.Volume }
func (s StaticSettings) RingerMode() RingerMode   { return s.Mode }
func (s StaticSettings) VibrateWhenRinging() bool { return s.VibrateWhenRings }

// LogVibrator stands in for a vibration motor on headless hosts
type LogVibrator struct{}

func (LogVibrator) HasVibrator() bool { return true }
func (LogVibrator) Vibrate()          { slog.Info("[Ringer] Vibrate on") }
func (LogVibrator) Cancel()           { slog.Info("[Ringer] Vibrate off") }
