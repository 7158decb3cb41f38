// Package events publishes call lifecycle events for consumers outside the
// call manager. Events are transport-agnostic; NATS is one publisher among
// several.
package events

import "time"

// EventType identifies the type of event
type EventType string

const (
	// CallAdded fires when a call joins the call set
	CallAdded EventType = "call.added"
	// CallStateChanged fires on every state transition of a call in the set
	CallStateChanged EventType = "call.state_changed"
	// CallRemoved fires when a call leaves the call set
	CallRemoved EventType = "call.removed"
	// ForegroundChanged fires when the foreground call changes
	ForegroundChanged EventType = "call.foreground_changed"
	// AudioStateChanged fires when the audio route or mute changes
	AudioStateChanged EventType = "audio.state_changed"
	// CallLogged fires once a call-log record has been written
	CallLogged EventType = "calllog.written"
)

// Event is the interface of all published events
type Event interface {
	// Type returns the event type for routing and filtering
	Type() EventType
	// Subject returns the subject this event publishes to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// CallID returns the call the event is about, empty for device-wide events
	CallID() string
	// ID returns the unique event id used for deduplication
	ID() string
}

// BaseEvent holds the fields common to all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	Call      string    `json:"call_id,omitempty"`
	// NodeID identifies the call manager instance
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() string       { return e.Call }
func (e *BaseEvent) ID() string           { return e.EventID }

// Subject returns the subject for the event type
func (e *BaseEvent) Subject() string {
	return SubjectFor(e.EventType, e.Call)
}

// CallAddedEvent describes a call that joined the call set
type CallAddedEvent struct {
	BaseEvent
	Direction  string `json:"direction"`
	Handle     string `json:"handle,omitempty"`
	Account    string `json:"account,omitempty"`
	State      string `json:"state"`
	Emergency  bool   `json:"emergency,omitempty"`
	Conference bool   `json:"conference,omitempty"`
}

// CallStateEvent describes a state transition
type CallStateEvent struct {
	BaseEvent
	OldState        string `json:"old_state"`
	NewState        string `json:"new_state"`
	DisconnectCause string `json:"disconnect_cause,omitempty"`
}

// CallRemovedEvent describes a call that left the call set
type CallRemovedEvent struct {
	BaseEvent
	FinalState      string  `json:"final_state"`
	DurationSec     float64 `json:"duration_sec"`
	DisconnectCause string  `json:"disconnect_cause,omitempty"`
}

// ForegroundEvent describes a change of the foreground call. CallID is the
// new foreground call and is empty when there is none.
type ForegroundEvent struct {
	BaseEvent
	PreviousCallID string `json:"previous_call_id,omitempty"`
}

// AudioEvent describes a new audio state
type AudioEvent struct {
	BaseEvent
	Route           string `json:"route"`
	SupportedRoutes string `json:"supported_routes"`
	Muted           bool   `json:"muted"`
}

// CallLoggedEvent describes a written call-log record
type CallLoggedEvent struct {
	BaseEvent
	RecordID    string  `json:"record_id"`
	LogType     string  `json:"log_type"`
	Number      string  `json:"number,omitempty"`
	DurationSec float64 `json:"duration_sec"`
}
