package monitor

import (
	"fmt"
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// PhoneState is the coarse call state published to the rest of the platform
type PhoneState int

const (
	PhoneStateIdle PhoneState = iota
	PhoneStateRinging
	PhoneStateOffhook
)

// String returns the string representation of the phone state
func (s PhoneState) String() string {
	switch s {
	case PhoneStateIdle:
		return "IDLE"
	case PhoneStateRinging:
		return "RINGING"
	case PhoneStateOffhook:
		return "OFFHOOK"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// PhoneStateSink receives phone state changes. number is the handle of
// the call that caused the change, without its scheme.
type PhoneStateSink interface {
	NotifyCallState(state PhoneState, number string)
}

// PhoneStateSinkFunc adapts a function to PhoneStateSink
type PhoneStateSinkFunc func(state PhoneState, number string)

// NotifyCallState calls f(state, number)
func (f PhoneStateSinkFunc) NotifyCallState(state PhoneState, number string) { f(state, number) }

// PhoneStateBroadcaster derives IDLE, RINGING or OFFHOOK from the call set
// and tells the sink when it changes.
type PhoneStateBroadcaster struct {
	calls Calls
	sink  PhoneStateSink
	state PhoneState
}

// NewPhoneStateBroadcaster creates a broadcaster starting at IDLE. A nil
// sink only logs.
func NewPhoneStateBroadcaster(calls Calls, sink PhoneStateSink) *PhoneStateBroadcaster {
	return &PhoneStateBroadcaster{calls: calls, sink: sink}
}

// State returns the last broadcast state
func (b *PhoneStateBroadcaster) State() PhoneState {
	return b.state
}

// OnEvent implements call.Listener
func (b *PhoneStateBroadcaster) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.StateChanged:
		switch e.New {
		case call.StateDialing, call.StateActive, call.StateOnHold:
			if !b.calls.HasRingingCall() {
				b.broadcast(c, PhoneStateOffhook)
			}
		}
	case call.CallAdded:
		if c.State() == call.StateRinging {
			b.broadcast(c, PhoneStateRinging)
		}
	case call.CallRemoved:
		state := PhoneStateIdle
		if b.calls.HasRingingCall() {
			state = PhoneStateRinging
		} else if b.calls.FirstCallWithState(call.StateDialing, call.StateActive, call.StateOnHold) != nil {
			state = PhoneStateOffhook
		}
		b.broadcast(c, state)
	}
}

func (b *PhoneStateBroadcaster) broadcast(c *call.Call, state PhoneState) {
	if state == b.state {
		return
	}
	b.state = state
	var number string
	if c != nil {
		number = c.Handle().Number()
	}
	slog.Info("[PhoneState] Broadcasting state change", "state", state.String(), "call_id", callID(c))
	if b.sink != nil {
		b.sink.NotifyCallState(state, number)
	}
}
