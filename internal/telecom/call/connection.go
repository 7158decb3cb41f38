package call

import "github.com/sebas/callmanager/internal/telecom/account"

// Connection is the backend side of a call: the operations a Call forwards
// to the connection service it is attached to. All methods are one-way and
// must not block; results come back through the orchestrator.
type Connection interface {
	// ID identifies the connection service; two calls share a backend when their IDs match.
	ID() string

	Answer(callID string, videoState VideoState)
	Reject(callID string, withMessage bool, text string)
	Hold(callID string)
	Unhold(callID string)
	Disconnect(callID string)
	Abort(callID string)
	PlayDTMF(callID string, digit rune)
	StopDTMF(callID string)
	PostDialContinue(callID string, proceed bool)
	Conference(callID, otherCallID string)
	Split(callID string)
	Merge(callID string)
	Swap(callID string)
	AudioStateChanged(callID string, state AudioState)
}

// ConnectionDetails is what a connection service reports about a call it
// has accepted.
type ConnectionDetails struct {
	State                         State
	Account                       account.Handle
	Handle                        Address
	HandlePresentation            Presentation
	CallerDisplayName             string
	CallerDisplayNamePresentation Presentation
	Capabilities                  Capabilities
	VideoState                    VideoState
	RingbackRequested             bool
	VoipAudioMode                 bool
	ConferenceableIDs             []string
}
