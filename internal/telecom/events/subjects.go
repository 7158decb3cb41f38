package events

import "fmt"

// Subject naming conventions.
//
// Hierarchy:
//   callmanager.calls.<call_id>.<event_suffix>  - Per-call events
//   callmanager.foreground                      - Foreground call changes
//   callmanager.audio                           - Audio state changes
//   callmanager.calllog                         - Written call-log records
//
// Wildcard subscriptions:
//   callmanager.calls.>                         - All call events
//   callmanager.calls.*.removed                 - All removals

const (
	// SubjectPrefix is the root of all call manager subjects
	SubjectPrefix = "callmanager"

	SubjectCalls      = SubjectPrefix + ".calls"
	SubjectForeground = SubjectPrefix + ".foreground"
	SubjectAudio      = SubjectPrefix + ".audio"
	SubjectCallLog    = SubjectPrefix + ".calllog"

	SubjectCallAdded        = "added"
	SubjectCallStateChanged = "state"
	SubjectCallRemoved      = "removed"
)

// CallSubject builds the subject of a per-call event.
// Example: CallSubject("call-1", "removed") => "callmanager.calls.call-1.removed"
func CallSubject(callID, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, callID, suffix)
}

// Subject patterns for common consumers
var (
	PatternAllCalls    = SubjectCalls + ".>"
	PatternCallRemoved = SubjectCalls + ".*." + SubjectCallRemoved
)

// SubjectFor returns the subject an event of type t about callID goes to
func SubjectFor(t EventType, callID string) string {
	switch t {
	case CallAdded:
		return CallSubject(callID, SubjectCallAdded)
	case CallStateChanged:
		return CallSubject(callID, SubjectCallStateChanged)
	case CallRemoved:
		return CallSubject(callID, SubjectCallRemoved)
	case ForegroundChanged:
		return SubjectForeground
	case AudioStateChanged:
		return SubjectAudio
	case CallLogged:
		return SubjectCallLog
	default:
		return SubjectPrefix + ".unknown"
	}
}
