// Package monitor holds the small orchestrator listeners that react to
// call events with local side effects: supervisory tones, ringback, DTMF
// feedback, the wake lock and the phone state broadcast.
package monitor

import (
	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// Calls is the monitors' view of the orchestrator
type Calls interface {
	ForegroundCall() *call.Call
	HasRingingCall() bool
	FirstCallWithState(states ...call.State) *call.Call
}

// ToneStarter starts supervisory tones. It is called under the owner lock.
type ToneStarter interface {
	Start(t tones.Tone) *tones.Player
}

// DTMFStarter starts keypad feedback tones
type DTMFStarter interface {
	StartDTMF(digit rune) *tones.Player
}
