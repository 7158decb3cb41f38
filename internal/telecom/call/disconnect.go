package call

import "fmt"

// DisconnectCode classifies why a call ended
type DisconnectCode int

const (
	DisconnectUnknown DisconnectCode = iota
	DisconnectError
	DisconnectLocal
	DisconnectRemote
	DisconnectCanceled
	DisconnectMissed
	DisconnectRejected
	DisconnectBusy
	DisconnectRestricted
	DisconnectOther
	DisconnectConnectionManagerNotSupported
)

// String returns the string representation of the code
func (c DisconnectCode) String() string {
	switch c {
	case DisconnectUnknown:
		return "UNKNOWN"
	case DisconnectError:
		return "ERROR"
	case DisconnectLocal:
		return "LOCAL"
	case DisconnectRemote:
		return "REMOTE"
	case DisconnectCanceled:
		return "CANCELED"
	case DisconnectMissed:
		return "MISSED"
	case DisconnectRejected:
		return "REJECTED"
	case DisconnectBusy:
		return "BUSY"
	case DisconnectRestricted:
		return "RESTRICTED"
	case DisconnectOther:
		return "OTHER"
	case DisconnectConnectionManagerNotSupported:
		return "CONNECTION_MANAGER_NOT_SUPPORTED"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// ToneHint is the tone the backend suggests playing when a call ends.
type ToneHint int

const (
	ToneHintNone ToneHint = iota
	ToneHintBusy
	ToneHintCongestion
	ToneHintReorder
	ToneHintIntercept
	ToneHintCallDrop
	ToneHintError
	ToneHintPrompt
)

// String returns the string representation of the tone hint
func (t ToneHint) String() string {
	switch t {
	case ToneHintNone:
		return "none"
	case ToneHintBusy:
		return "busy"
	case ToneHintCongestion:
		return "congestion"
	case ToneHintReorder:
		return "reorder"
	case ToneHintIntercept:
		return "intercept"
	case ToneHintCallDrop:
		return "call_drop"
	case ToneHintError:
		return "error"
	case ToneHintPrompt:
		return "prompt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DisconnectCause describes why a call ended and how to present it.
type DisconnectCause struct {
	Code        DisconnectCode
	Label       string
	Description string
	Reason      string
	Tone        ToneHint
}

// NewDisconnectCause returns a cause with only the code set
func NewDisconnectCause(code DisconnectCode) DisconnectCause {
	return DisconnectCause{Code: code}
}

// String returns a compact form for logs
func (d DisconnectCause) String() string {
	if d.Reason == "" {
		return d.Code.String()
	}
	return fmt.Sprintf("%s(%s)", d.Code, d.Reason)
}
