package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// Builder provides fluent construction of events with consistent defaults.
type Builder struct {
	nodeID string
	now    func() time.Time
}

// NewBuilder creates an event builder stamping events with nodeID
func NewBuilder(nodeID string) *Builder {
	return &Builder{
		nodeID: nodeID,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the event timestamp source
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Builder) newBase(t EventType, callID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: t,
		EventTime: b.now(),
		Call:      callID,
		NodeID:    b.nodeID,
	}
}

// CallAddedBuilder constructs CallAddedEvent.
type CallAddedBuilder struct {
	event *CallAddedEvent
}

// CallAdded starts building a CallAddedEvent
func (b *Builder) CallAdded(callID string) *CallAddedBuilder {
	return &CallAddedBuilder{
		event: &CallAddedEvent{BaseEvent: b.newBase(CallAdded, callID)},
	}
}

// CallAddedFrom fills a CallAddedEvent from c
func (b *Builder) CallAddedFrom(c *call.Call) *CallAddedBuilder {
	cb := b.CallAdded(c.ID()).
		Direction(c.Direction().String()).
		Handle(string(c.Handle())).
		State(c.State().String()).
		Emergency(c.IsEmergency()).
		Conference(c.IsConference())
	if acct := c.TargetAccount(); !acct.IsZero() {
		cb.Account(acct.String())
	}
	return cb
}

func (cb *CallAddedBuilder) Direction(d string) *CallAddedBuilder {
	cb.event.Direction = d
	return cb
}

func (cb *CallAddedBuilder) Handle(h string) *CallAddedBuilder {
	cb.event.Handle = h
	return cb
}

func (cb *CallAddedBuilder) Account(a string) *CallAddedBuilder {
	cb.event.Account = a
	return cb
}

func (cb *CallAddedBuilder) State(s string) *CallAddedBuilder {
	cb.event.State = s
	return cb
}

func (cb *CallAddedBuilder) Emergency(on bool) *CallAddedBuilder {
	cb.event.Emergency = on
	return cb
}

func (cb *CallAddedBuilder) Conference(on bool) *CallAddedBuilder {
	cb.event.Conference = on
	return cb
}

func (cb *CallAddedBuilder) Build() *CallAddedEvent {
	return cb.event
}

// CallStateBuilder constructs CallStateEvent.
type CallStateBuilder struct {
	event *CallStateEvent
}

// CallState starts building a CallStateEvent
func (b *Builder) CallState(callID string) *CallStateBuilder {
	return &CallStateBuilder{
		event: &CallStateEvent{BaseEvent: b.newBase(CallStateChanged, callID)},
	}
}

func (cb *CallStateBuilder) Transition(old, new call.State) *CallStateBuilder {
	cb.event.OldState = old.String()
	cb.event.NewState = new.String()
	return cb
}

func (cb *CallStateBuilder) Cause(cause call.DisconnectCause) *CallStateBuilder {
	cb.event.DisconnectCause = cause.String()
	return cb
}

func (cb *CallStateBuilder) Build() *CallStateEvent {
	return cb.event
}

// CallRemovedBuilder constructs CallRemovedEvent.
type CallRemovedBuilder struct {
	event *CallRemovedEvent
}

// CallRemoved starts building a CallRemovedEvent
func (b *Builder) CallRemoved(callID string) *CallRemovedBuilder {
	return &CallRemovedBuilder{
		event: &CallRemovedEvent{BaseEvent: b.newBase(CallRemoved, callID)},
	}
}

func (cb *CallRemovedBuilder) FinalState(s call.State) *CallRemovedBuilder {
	cb.event.FinalState = s.String()
	return cb
}

func (cb *CallRemovedBuilder) Duration(d time.Duration) *CallRemovedBuilder {
	cb.event.DurationSec = d.Seconds()
	return cb
}

func (cb *CallRemovedBuilder) Cause(cause call.DisconnectCause) *CallRemovedBuilder {
	if cause.Code != call.DisconnectUnknown {
		cb.event.DisconnectCause = cause.String()
	}
	return cb
}

func (cb *CallRemovedBuilder) Build() *CallRemovedEvent {
	return cb.event
}

// Foreground builds a ForegroundEvent. Either id may be empty.
func (b *Builder) Foreground(newID, previousID string) *ForegroundEvent {
	return &ForegroundEvent{
		BaseEvent:      b.newBase(ForegroundChanged, newID),
		PreviousCallID: previousID,
	}
}

// Audio builds an AudioEvent for s
func (b *Builder) Audio(s call.AudioState) *AudioEvent {
	return &AudioEvent{
		BaseEvent:       b.newBase(AudioStateChanged, ""),
		Route:           s.Route.String(),
		SupportedRoutes: s.SupportedRoutes.String(),
		Muted:           s.Muted,
	}
}

// CallLoggedBuilder constructs CallLoggedEvent.
type CallLoggedBuilder struct {
	event *CallLoggedEvent
}

// CallLogged starts building a CallLoggedEvent
func (b *Builder) CallLogged(callID, recordID string) *CallLoggedBuilder {
	return &CallLoggedBuilder{
		event: &CallLoggedEvent{
			BaseEvent: b.newBase(CallLogged, callID),
			RecordID:  recordID,
		},
	}
}

func (cb *CallLoggedBuilder) LogType(t string) *CallLoggedBuilder {
	cb.event.LogType = t
	return cb
}

func (cb *CallLoggedBuilder) Number(n string) *CallLoggedBuilder {
	cb.event.Number = n
	return cb
}

func (cb *CallLoggedBuilder) Duration(d time.Duration) *CallLoggedBuilder {
	cb.event.DurationSec = d.Seconds()
	return cb
}

func (cb *CallLoggedBuilder) Build() *CallLoggedEvent {
	return cb.event
}
