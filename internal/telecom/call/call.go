package call

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/sebas/callmanager/internal/telecom/account"
)

// Call is one telephony call's tracked lifecycle state.
//
// Setters are idempotent: assigning the current value is a no-op. Any
// other assignment mutates the call and then notifies every listener
// synchronously in registration order.
//
// Thread Safety: none. Calls are owned by the orchestrator and every method
// must run under its lock.
type Call struct {
	id        string
	arena     *Arena
	createdAt time.Time
	direction Direction

	isConference bool
	isUnknown    bool
	isEmergency  bool

	state                         State
	handle                        Address
	handlePresentation            Presentation
	callerDisplayName             string
	callerDisplayNamePresentation Presentation
	gateway                       *GatewayInfo

	capabilities      Capabilities
	videoState        VideoState
	videoStateHistory VideoState

	// Conference graph, by id
	parentID                string
	childIDs                []string
	conferenceableIDs       []string
	conferenceLevelActiveID string

	targetAccount            account.Handle
	connectionManagerAccount account.Handle
	conn                     Connection

	// cancelAttempt aborts an in-flight create-connection attempt
	cancelAttempt func()

	disconnectCause      DisconnectCause
	connectTime          time.Time
	disconnectTime       time.Time
	locallyDisconnecting bool

	startWithSpeakerphone bool
	voipAudioMode         bool
	ringbackRequested     bool
	postDialRemaining     string
	extras                map[string]string
	cannedSmsResponses    []string

	listeners      []listenerEntry
	nextListenerID uint64
	destroyed      bool
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// --- Identity ---

func (c *Call) ID() string                                  { return c.id }
func (c *Call) CreatedAt() time.Time                        { return c.createdAt }
func (c *Call) Direction() Direction                        { return c.direction }
func (c *Call) IsIncoming() bool                            { return c.direction == DirectionIncoming }
func (c *Call) IsConference() bool                          { return c.isConference }
func (c *Call) IsUnknown() bool                             { return c.isUnknown }
func (c *Call) IsEmergency() bool                           { return c.isEmergency }
func (c *Call) State() State                                { return c.state }
func (c *Call) Handle() Address                             { return c.handle }
func (c *Call) HandlePresentation() Presentation            { return c.handlePresentation }
func (c *Call) CallerDisplayName() string                   { return c.callerDisplayName }
func (c *Call) CallerDisplayNamePresentation() Presentation { return c.callerDisplayNamePresentation }
func (c *Call) Gateway() *GatewayInfo                       { return c.gateway }
func (c *Call) Capabilities() Capabilities                  { return c.capabilities }
func (c *Call) Can(want Capabilities) bool                  { return c.capabilities.Has(want) }
func (c *Call) VideoState() VideoState                      { return c.videoState }
func (c *Call) VideoStateHistory() VideoState               { return c.videoStateHistory }
func (c *Call) TargetAccount() account.Handle               { return c.targetAccount }
func (c *Call) ConnectionManagerAccount() account.Handle    { return c.connectionManagerAccount }
func (c *Call) Connection() Connection                      { return c.conn }
func (c *Call) DisconnectCause() DisconnectCause            { return c.disconnectCause }
func (c *Call) ConnectTime() time.Time                      { return c.connectTime }
func (c *Call) DisconnectTime() time.Time                   { return c.disconnectTime }
func (c *Call) IsLocallyDisconnecting() bool                { return c.locallyDisconnecting }
func (c *Call) StartWithSpeakerphoneOn() bool               { return c.startWithSpeakerphone }
func (c *Call) IsVoipAudioMode() bool                       { return c.voipAudioMode }
func (c *Call) RingbackRequested() bool                     { return c.ringbackRequested }
func (c *Call) PostDialRemaining() string                   { return c.postDialRemaining }
func (c *Call) IsDestroyed() bool                           { return c.destroyed }

// ConnectionID returns the attached backend's id, or "" when detached
func (c *Call) ConnectionID() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ID()
}

// Extra returns an intent extra supplied when the call was created
func (c *Call) Extra(key string) string {
	return c.extras[key]
}

// Extras returns a copy of every extra
func (c *Call) Extras() map[string]string {
	return maps.Clone(c.extras)
}

// IsActive reports whether the call is ACTIVE
func (c *Call) IsActive() bool {
	return c.state == StateActive
}

// IsAlive reports whether the call holds (or is acquiring) a network
// connection the user has accepted: every state except NEW, RINGING and the
// terminal states.
func (c *Call) IsAlive() bool {
	switch c.state {
	case StateNew, StateRinging, StateDisconnected, StateAborted:
		return false
	}
	return true
}

// IsCreateConnectionPending reports whether a create-connection attempt is in flight
func (c *Call) IsCreateConnectionPending() bool {
	return c.cancelAttempt != nil
}

// Duration returns the connected time, or zero if the call never connected
func (c *Call) Duration() time.Duration {
	if c.connectTime.IsZero() {
		return 0
	}
	end := c.disconnectTime
	if end.IsZero() {
		end = c.arena.now()
	}
	return end.Sub(c.connectTime)
}

// String returns a compact form for logs
func (c *Call) String() string {
	return fmt.Sprintf("[%s, %s, %s, %s, %s, children(%d), has_parent(%t), %s]",
		c.id, c.state, c.ConnectionID(), c.handle, c.videoState,
		len(c.childIDs), c.parentID != "", c.capabilities)
}

// --- Listeners ---

// AddListener registers l and returns a func that unregisters it. Both are
// safe to call from inside a notification.
func (c *Call) AddListener(l Listener) func() {
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, l: l})
	return func() {
		c.listeners = slices.DeleteFunc(c.listeners, func(e listenerEntry) bool {
			return e.id == id
		})
	}
}

// ListenerCount returns the number of registered listeners
func (c *Call) ListenerCount() int {
	return len(c.listeners)
}

func (c *Call) notify(ev Event) {
	entries := slices.Clone(c.listeners)
	for _, e := range entries {
		c.dispatch(e.l, ev)
	}
}

func (c *Call) dispatch(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Call] Listener panicked",
				"call_id", c.id,
				"listener", fmt.Sprintf("%T", l),
				"event", fmt.Sprintf("%T", ev),
				"panic", r,
			)
		}
	}()
	l.OnEvent(c, ev)
}

// --- Setters ---

// SetState moves the call to s and applies the timestamp and video-history
// side effects of entering connected or terminal states.
func (c *Call) SetState(s State) {
	if c.state == s {
		return
	}
	old := c.state
	if !old.CanTransitionTo(s) {
		slog.Warn("[Call] Unexpected state transition", "call_id", c.id, "from", old.String(), "to", s.String())
	}
	c.state = s

	switch s {
	case StateActive, StateOnHold:
		if c.connectTime.IsZero() {
			c.connectTime = c.arena.now()
		}
		c.videoStateHistory |= c.videoState
		c.disconnectTime = time.Time{}
	case StateDisconnected, StateAborted:
		c.disconnectTime = c.arena.now()
		c.locallyDisconnecting = false
		if c.parentID != "" {
			// Leaving a conference on disconnect cannot fail validation.
			_ = c.SetParentCall(nil)
		}
	}
	if s == StateDisconnected && c.disconnectCause.Code == DisconnectMissed {
		c.videoStateHistory |= c.videoState
	}

	slog.Debug("[Call] State changed", "call_id", c.id, "from", old.String(), "to", s.String())
	c.notify(StateChanged{Old: old, New: s})
}

// SetHandle updates the address and its presentation
func (c *Call) SetHandle(h Address, p Presentation) {
	if c.handle == h && c.handlePresentation == p {
		return
	}
	old := c.handle
	c.handle = h
	c.handlePresentation = p
	c.notify(HandleChanged{Old: old, New: h})
}

// SetCallerDisplayName updates the CNAP name and its presentation
func (c *Call) SetCallerDisplayName(name string, p Presentation) {
	if c.callerDisplayName == name && c.callerDisplayNamePresentation == p {
		return
	}
	c.callerDisplayName = name
	c.callerDisplayNamePresentation = p
	c.notify(CallerDisplayNameChanged{Name: name})
}

// SetGateway records gateway routing for an outgoing call
func (c *Call) SetGateway(g *GatewayInfo) {
	c.gateway = g
}

// SetCapabilities replaces the capability bitset
func (c *Call) SetCapabilities(caps Capabilities) {
	if c.capabilities == caps {
		return
	}
	old := c.capabilities
	c.capabilities = caps
	c.notify(CapabilitiesChanged{Old: old, New: caps})
}

// SetVideoState updates the video state. The history only accumulates
// while the call is ACTIVE or DISCONNECTED so unanswered offers are not
// counted.
func (c *Call) SetVideoState(v VideoState) {
	if c.state == StateActive || c.state == StateDisconnected {
		c.videoStateHistory |= v
	}
	if c.videoState == v {
		return
	}
	old := c.videoState
	c.videoState = v
	c.notify(VideoStateChanged{Old: old, New: v})
}

// SetTargetAccount sets the account the call is placed on
func (c *Call) SetTargetAccount(h account.Handle) {
	if c.targetAccount == h {
		return
	}
	c.targetAccount = h
	c.notify(TargetAccountChanged{})
}

// SetConnectionManagerAccount sets the connection-manager account wrapping the call
func (c *Call) SetConnectionManagerAccount(h account.Handle) {
	c.connectionManagerAccount = h
}

// SetConnection attaches the call to a backend
func (c *Call) SetConnection(conn Connection) {
	if c.conn == conn {
		return
	}
	oldID := c.ConnectionID()
	c.conn = conn
	c.notify(ConnectionServiceChanged{OldID: oldID, NewID: c.ConnectionID()})
}

// ClearConnection detaches the call from its backend
func (c *Call) ClearConnection() {
	c.SetConnection(nil)
}

// SetPendingAttempt records the cancel func of an in-flight create-connection attempt
func (c *Call) SetPendingAttempt(cancel func()) {
	c.cancelAttempt = cancel
}

// ClearPendingAttempt forgets the in-flight attempt once it has completed
func (c *Call) ClearPendingAttempt() {
	c.cancelAttempt = nil
}

// SetDisconnectCause records why the call ended
func (c *Call) SetDisconnectCause(cause DisconnectCause) {
	c.disconnectCause = cause
}

// SetEmergency marks the call as an emergency call
func (c *Call) SetEmergency(emergency bool) {
	c.isEmergency = emergency
}

// SetIsUnknown marks a call the backend reported without a request from us
func (c *Call) SetIsUnknown(unknown bool) {
	c.isUnknown = unknown
}

// SetStartWithSpeakerphoneOn asks the router to move to speaker once the call dials or connects
func (c *Call) SetStartWithSpeakerphoneOn(on bool) {
	c.startWithSpeakerphone = on
}

// SetIsVoipAudioMode switches between voip and telephony audio modes
func (c *Call) SetIsVoipAudioMode(voip bool) {
	if c.voipAudioMode == voip {
		return
	}
	c.voipAudioMode = voip
	c.notify(VoipAudioModeChanged{Voip: voip})
}

// SetRingbackRequested records whether the backend wants local ringback
func (c *Call) SetRingbackRequested(on bool) {
	if c.ringbackRequested == on {
		return
	}
	c.ringbackRequested = on
	c.notify(RingbackRequested{On: on})
}

// SetLocallyDisconnecting records that the user asked to end the call
func (c *Call) SetLocallyDisconnecting(on bool) {
	c.locallyDisconnecting = on
}

// SetExtras replaces the intent extras
func (c *Call) SetExtras(extras map[string]string) {
	c.extras = extras
}

// SetConferenceableCalls replaces the set of calls this call can be merged with
func (c *Call) SetConferenceableCalls(ids []string) {
	if slices.Equal(c.conferenceableIDs, ids) {
		return
	}
	c.conferenceableIDs = slices.Clone(ids)
	c.notify(ConferenceableChanged{})
}

// SetCannedSmsResponses records the respond-via-text messages for an incoming call
func (c *Call) SetCannedSmsResponses(responses []string) {
	c.cannedSmsResponses = slices.Clone(responses)
	c.notify(CannedSmsResponsesLoaded{Responses: slices.Clone(responses)})
}

// CannedSmsResponses returns the respond-via-text messages, or nil before they load
func (c *Call) CannedSmsResponses() []string {
	return slices.Clone(c.cannedSmsResponses)
}

// ConferenceableIDs returns the ids of calls this call can be merged with
func (c *Call) ConferenceableIDs() []string {
	return slices.Clone(c.conferenceableIDs)
}

// OnPostDialWait forwards a post-dial pause from the backend
func (c *Call) OnPostDialWait(remaining string) {
	c.postDialRemaining = remaining
	c.notify(PostDialWait{Remaining: remaining})
}

// OnPostDialChar forwards a post-dial digit from the backend
func (c *Call) OnPostDialChar(ch rune) {
	c.notify(PostDialChar{Char: ch})
}

// --- Conference graph ---

// ParentID returns the conference this call belongs to, or ""
func (c *Call) ParentID() string { return c.parentID }

// Parent returns the conference this call belongs to, or nil
func (c *Call) Parent() *Call {
	return c.arena.Get(c.parentID)
}

// ChildIDs returns the ids of this conference's children in join order
func (c *Call) ChildIDs() []string {
	return slices.Clone(c.childIDs)
}

// Children returns this conference's children in join order
func (c *Call) Children() []*Call {
	out := make([]*Call, 0, len(c.childIDs))
	for _, id := range c.childIDs {
		if child := c.arena.Get(id); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// ConferenceLevelActiveID returns the child considered active within the conference
func (c *Call) ConferenceLevelActiveID() string {
	return c.conferenceLevelActiveID
}

// SetParentCall links the call under parent, or unlinks it when parent is
// nil. Moving directly from one parent to another is rejected; unlink
// first.
func (c *Call) SetParentCall(parent *Call) error {
	if parent == c {
		slog.Error("[Call] Rejected self parent", "call_id", c.id)
		return &ParentError{CallID: c.id, ParentID: c.id, Err: ErrSelfParent}
	}
	newID := ""
	if parent != nil {
		newID = parent.id
	}
	if newID == c.parentID {
		return nil
	}
	if parent != nil && c.parentID != "" {
		return &ParentError{CallID: c.id, ParentID: newID, Err: ErrAlreadyHasParent}
	}
	for p := parent; p != nil; p = p.Parent() {
		if p.id == c.id {
			return &ParentError{CallID: c.id, ParentID: newID, Err: ErrParentCycle}
		}
	}

	oldID := c.parentID
	if old := c.Parent(); old != nil {
		old.removeChild(c)
	}
	c.parentID = newID
	if parent != nil {
		parent.addChild(c)
	}
	c.notify(ParentChanged{OldParentID: oldID, NewParentID: newID})
	return nil
}

func (c *Call) addChild(child *Call) {
	if slices.Contains(c.childIDs, child.id) {
		return
	}
	// The newest child is treated as the active one within the conference.
	c.conferenceLevelActiveID = child.id
	c.childIDs = append(c.childIDs, child.id)
	c.notify(ChildrenChanged{})
}

func (c *Call) removeChild(child *Call) {
	i := slices.Index(c.childIDs, child.id)
	if i < 0 {
		return
	}
	c.childIDs = slices.Delete(c.childIDs, i, i+1)
	if c.conferenceLevelActiveID == child.id {
		c.conferenceLevelActiveID = ""
	}
	c.notify(ChildrenChanged{})
}

// --- Backend operations ---
//
// These forward to the attached connection. They are ignored with a warning
// when no connection is attached or the call is in the wrong state.

func (c *Call) requireConnection(op string) bool {
	if c.conn == nil {
		slog.Warn("[Call] Ignoring request on call without a connection service", "op", op, "call_id", c.id)
		return false
	}
	return true
}

func (c *Call) requireState(op string, want State) bool {
	if c.state != want {
		slog.Warn("[Call] Ignoring request in wrong state", "op", op, "call_id", c.id,
			"state", c.state.String(), "required", want.String())
		return false
	}
	return true
}

// Answer asks the backend to answer a RINGING call
func (c *Call) Answer(videoState VideoState) {
	if !c.requireConnection("answer") || !c.requireState("answer", StateRinging) {
		return
	}
	slog.Info("[Call] Requesting answer", "call_id", c.id, "video_state", videoState.String())
	c.conn.Answer(c.id, videoState)
}

// Reject asks the backend to reject a RINGING call
func (c *Call) Reject(withMessage bool, text string) {
	if !c.requireConnection("reject") || !c.requireState("reject", StateRinging) {
		return
	}
	c.videoStateHistory |= c.videoState
	slog.Info("[Call] Requesting reject", "call_id", c.id, "with_message", withMessage)
	c.conn.Reject(c.id, withMessage, text)
}

// Hold asks the backend to hold an ACTIVE call
func (c *Call) Hold() {
	if !c.requireConnection("hold") || !c.requireState("hold", StateActive) {
		return
	}
	slog.Info("[Call] Requesting hold", "call_id", c.id)
	c.conn.Hold(c.id)
}

// Unhold asks the backend to resume an ON_HOLD call
func (c *Call) Unhold() {
	if !c.requireConnection("unhold") || !c.requireState("unhold", StateOnHold) {
		return
	}
	slog.Info("[Call] Requesting unhold", "call_id", c.id)
	c.conn.Unhold(c.id)
}

// Disconnect ends the call. A call still being set up is aborted;
// otherwise the backend is asked to disconnect and the call stays in its
// current state until the backend confirms.
func (c *Call) Disconnect() {
	c.locallyDisconnecting = true

	switch c.state {
	case StateNew, StateSelectAccount, StateConnecting:
		slog.Debug("[Call] Aborting call", "call_id", c.id, "state", c.state.String())
		c.Abort()
	case StateDisconnected, StateAborted:
	default:
		if !c.requireConnection("disconnect") {
			return
		}
		slog.Info("[Call] Requesting disconnect", "call_id", c.id)
		c.conn.Disconnect(c.id)
	}
}

// Abort cancels a call that has not finished connecting. An in-flight
// create-connection attempt is cancelled synchronously so a late result can
// never revive the call.
func (c *Call) Abort() {
	if cancel := c.cancelAttempt; cancel != nil {
		c.cancelAttempt = nil
		cancel()
		c.HandleCreateConnectionFailure(NewDisconnectCause(DisconnectLocal))
		return
	}
	switch c.state {
	case StateNew, StateSelectAccount, StateConnecting:
		c.HandleCreateConnectionFailure(NewDisconnectCause(DisconnectCanceled))
	default:
		slog.Debug("[Call] Cannot abort call past connecting", "call_id", c.id, "state", c.state.String())
	}
}

// HandleCreateConnectionSuccess attaches the backend that accepted the call,
// copies the details it reported and tells listeners which kind of call
// just came up.
func (c *Call) HandleCreateConnectionSuccess(conn Connection, d ConnectionDetails) {
	c.cancelAttempt = nil
	c.SetConnection(conn)
	if !d.Account.IsZero() {
		c.SetTargetAccount(d.Account)
	}
	if d.Handle != "" {
		c.SetHandle(d.Handle, orAllowed(d.HandlePresentation))
	}
	c.SetCallerDisplayName(d.CallerDisplayName, orAllowed(d.CallerDisplayNamePresentation))
	c.SetCapabilities(d.Capabilities)
	c.SetVideoState(d.VideoState)
	c.SetRingbackRequested(d.RingbackRequested)
	c.SetIsVoipAudioMode(d.VoipAudioMode)
	c.SetConferenceableCalls(d.ConferenceableIDs)

	switch {
	case c.isUnknown:
		c.notify(SuccessfulUnknown{State: d.State})
	case c.direction == DirectionIncoming:
		c.notify(SuccessfulIncoming{})
	default:
		c.notify(SuccessfulOutgoing{State: d.State})
	}
}

func orAllowed(p Presentation) Presentation {
	if p == 0 {
		return PresentationAllowed
	}
	return p
}

// HandleCreateConnectionFailure detaches the backend and reports the failure to listeners
func (c *Call) HandleCreateConnectionFailure(cause DisconnectCause) {
	c.cancelAttempt = nil
	c.ClearConnection()
	c.disconnectCause = cause

	switch {
	case c.isUnknown:
		c.notify(FailedUnknown{Cause: cause})
	case c.direction == DirectionIncoming:
		c.notify(FailedIncoming{Cause: cause})
	default:
		c.notify(FailedOutgoing{Cause: cause})
	}
}

// OnAudioStateChanged forwards the new audio route to the backend
func (c *Call) OnAudioStateChanged(state AudioState) {
	if c.conn == nil {
		return
	}
	c.conn.AudioStateChanged(c.id, state)
}

// PlayDTMF starts a DTMF tone on the backend
func (c *Call) PlayDTMF(digit rune) {
	if !c.requireConnection("play_dtmf") {
		return
	}
	c.conn.PlayDTMF(c.id, digit)
}

// StopDTMF stops the current DTMF tone on the backend
func (c *Call) StopDTMF() {
	if !c.requireConnection("stop_dtmf") {
		return
	}
	c.conn.StopDTMF(c.id)
}

// PostDialContinue resumes or cancels paused post-dial digits
func (c *Call) PostDialContinue(proceed bool) {
	if !c.requireConnection("post_dial_continue") {
		return
	}
	c.conn.PostDialContinue(c.id, proceed)
}

// ConferenceWith asks the backend to conference this call with other
func (c *Call) ConferenceWith(other *Call) {
	if !c.requireConnection("conference") {
		return
	}
	c.conn.Conference(c.id, other.id)
}

// Split asks the backend to remove this call from its conference
func (c *Call) Split() {
	if !c.requireConnection("split") {
		return
	}
	c.conn.Split(c.id)
}

// Merge asks the backend to merge this conference's calls
func (c *Call) Merge() {
	if !c.requireConnection("merge") || !c.Can(CapMergeConference) {
		return
	}
	c.conn.Merge(c.id)
}

// Swap asks the backend to swap the active call within this conference
// and flips the conference-level active child to match.
func (c *Call) Swap() {
	if !c.requireConnection("swap") || !c.Can(CapSwapConference) {
		return
	}
	c.conn.Swap(c.id)
	switch len(c.childIDs) {
	case 1:
		c.conferenceLevelActiveID = c.childIDs[0]
	case 2:
		if c.childIDs[0] == c.conferenceLevelActiveID {
			c.conferenceLevelActiveID = c.childIDs[1]
		} else {
			c.conferenceLevelActiveID = c.childIDs[0]
		}
	default:
		c.conferenceLevelActiveID = ""
	}
}

// Destroy unlinks the call from the conference graph, drops every listener
// and releases it from the arena.
func (c *Call) Destroy() {
	if c.destroyed {
		return
	}
	_ = c.SetParentCall(nil)
	for _, child := range c.Children() {
		_ = child.SetParentCall(nil)
	}
	c.listeners = nil
	c.destroyed = true
	c.arena.release(c.id)
}
