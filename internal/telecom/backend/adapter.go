package backend

import (
	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// Adapter receives the asynchronous reports of connection services. The
// orchestrator implements it; every method may be called from any
// goroutine and is serialized onto the orchestrator's lock. Reports for
// calls the orchestrator does not know are dropped.
type Adapter interface {
	SetActive(callID string)
	SetRinging(callID string)
	SetDialing(callID string)
	SetOnHold(callID string)
	SetDisconnected(callID string, cause call.DisconnectCause)
	SetRingbackRequested(callID string, on bool)
	SetCapabilities(callID string, caps call.Capabilities)
	SetVideoState(callID string, v call.VideoState)
	SetIsVoipAudioMode(callID string, voip bool)
	SetAddress(callID string, h call.Address, p call.Presentation)
	SetCallerDisplayName(callID, name string, p call.Presentation)
	SetConferenceableConnections(callID string, ids []string)
	OnPostDialWait(callID, remaining string)
	OnPostDialChar(callID string, ch rune)
	OnSessionModifyRequest(callID string, v call.VideoState)

	// SetIsConferenced moves callID under conferenceID, or out of any
	// conference when conferenceID is empty.
	SetIsConferenced(callID, conferenceID string)
	// AddConferenceCall reports a conference the service created on its own.
	AddConferenceCall(svc ConnectionService, conferenceID string, d Result)
	// AddExistingConnection reports a call already in progress on the service.
	AddExistingConnection(svc ConnectionService, callID string, d Result)
	// RemoveCall drops a call the service no longer tracks.
	RemoveCall(callID string)

	// IncomingCall announces a new call from the network; the core answers
	// by creating the connection with extras passed back in the Request.
	IncomingCall(acct account.Handle, extras map[string]string)
	// UnknownCall announces a call found on the network that neither side placed.
	UnknownCall(acct account.Handle, extras map[string]string)
}
