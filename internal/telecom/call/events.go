package call

// Event is a change notification delivered to a Listener. The set of
// events is closed: every variant is declared in this file.
type Event interface {
	isEvent()
}

// Listener observes calls. Implementations switch on the concrete Event type
// and ignore the variants they do not care about.
type Listener interface {
	OnEvent(c *Call, ev Event)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(c *Call, ev Event)

// OnEvent calls f(c, ev)
func (f ListenerFunc) OnEvent(c *Call, ev Event) { f(c, ev) }

// --- Call-level events, emitted by Call setters ---

// StateChanged is emitted when the call changes state
type StateChanged struct{ Old, New State }

// HandleChanged is emitted when the call's address or its presentation changes
type HandleChanged struct{ Old, New Address }

// CallerDisplayNameChanged is emitted when the CNAP name changes
type CallerDisplayNameChanged struct{ Name string }

// CapabilitiesChanged is emitted when the backend reports new capabilities
type CapabilitiesChanged struct{ Old, New Capabilities }

// ParentChanged is emitted on the child when it joins or leaves a conference
type ParentChanged struct{ OldParentID, NewParentID string }

// ChildrenChanged is emitted on the conference when a child joins or leaves
type ChildrenChanged struct{}

// ConferenceableChanged is emitted when the set of calls this call can merge with changes
type ConferenceableChanged struct{}

// TargetAccountChanged is emitted when the account the call is placed on changes
type TargetAccountChanged struct{}

// PostDialWait is emitted when post-dial digits pause for confirmation
type PostDialWait struct{ Remaining string }

// PostDialChar is emitted for each post-dial character the backend sends; 0 means done
type PostDialChar struct{ Char rune }

// RingbackRequested is emitted when the backend asks for local ringback
type RingbackRequested struct{ On bool }

// VoipAudioModeChanged is emitted when the call switches between voip and telephony audio modes
type VoipAudioModeChanged struct{ Voip bool }

// VideoStateChanged is emitted when the call's video state changes
type VideoStateChanged struct{ Old, New VideoState }

// ConnectionServiceChanged is emitted when the call is attached to or detached from a backend
type ConnectionServiceChanged struct{ OldID, NewID string }

// SuccessfulOutgoing is emitted when a backend accepted an outgoing call.
// State is the state the backend reported the call in.
type SuccessfulOutgoing struct{ State State }

// FailedOutgoing is emitted when placing an outgoing call failed or was aborted
type FailedOutgoing struct{ Cause DisconnectCause }

// SuccessfulIncoming is emitted when a backend confirmed an incoming call
type SuccessfulIncoming struct{}

// FailedIncoming is emitted when a backend could not set up an incoming call
type FailedIncoming struct{ Cause DisconnectCause }

// SuccessfulUnknown is emitted when a backend confirmed a call it created on its own
type SuccessfulUnknown struct{ State State }

// FailedUnknown is emitted when a backend could not set up a call it created on its own
type FailedUnknown struct{ Cause DisconnectCause }

// CannedSmsResponsesLoaded is emitted when the respond-via-text messages are available
type CannedSmsResponsesLoaded struct{ Responses []string }

// --- Orchestrator-level events ---

// CallAdded is emitted when a call joins the orchestrator's call set
type CallAdded struct{}

// CallRemoved is emitted when a call leaves the orchestrator's call set
type CallRemoved struct{}

// ForegroundChanged is emitted when the foreground call changes. The
// listener's call argument is the new foreground call and may be nil.
type ForegroundChanged struct{ Old, New *Call }

// CanAddCallChanged is emitted when the capacity for another top-level call flips
type CanAddCallChanged struct{ CanAdd bool }

// AudioStateChanged is emitted when the audio route or mute changes
type AudioStateChanged struct{ Old, New AudioState }

// IncomingCallAnswered is emitted before the answer request reaches the backend
type IncomingCallAnswered struct{}

// IncomingCallRejected is emitted before the reject request reaches the backend
type IncomingCallRejected struct {
	WithMessage bool
	Text        string
}

// IsConferencedChanged is emitted when a call's parent or children change
type IsConferencedChanged struct{}

// IsTonePlayingChanged is emitted when an in-call tone starts or stops
type IsTonePlayingChanged struct{ Playing bool }

// SessionModifyRequest is emitted when the remote side asks to change the video state
type SessionModifyRequest struct{ VideoState VideoState }

func (StateChanged) isEvent()             {}
func (HandleChanged) isEvent()            {}
func (CallerDisplayNameChanged) isEvent() {}
func (CapabilitiesChanged) isEvent()      {}
func (ParentChanged) isEvent()            {}
func (ChildrenChanged) isEvent()          {}
func (ConferenceableChanged) isEvent()    {}
func (TargetAccountChanged) isEvent()     {}
func (PostDialWait) isEvent()             {}
func (PostDialChar) isEvent()             {}
func (RingbackRequested) isEvent()        {}
func (VoipAudioModeChanged) isEvent()     {}
func (VideoStateChanged) isEvent()        {}
func (ConnectionServiceChanged) isEvent() {}
func (SuccessfulOutgoing) isEvent()       {}
func (FailedOutgoing) isEvent()           {}
func (SuccessfulIncoming) isEvent()       {}
func (FailedIncoming) isEvent()           {}
func (SuccessfulUnknown) isEvent()        {}
func (FailedUnknown) isEvent()            {}
func (CannedSmsResponsesLoaded) isEvent() {}
func (CallAdded) isEvent()                {}
func (CallRemoved) isEvent()              {}
func (ForegroundChanged) isEvent()        {}
func (CanAddCallChanged) isEvent()        {}
func (AudioStateChanged) isEvent()        {}
func (IncomingCallAnswered) isEvent()     {}
func (IncomingCallRejected) isEvent()     {}
func (IsConferencedChanged) isEvent()     {}
func (IsTonePlayingChanged) isEvent()     {}
func (SessionModifyRequest) isEvent()     {}
