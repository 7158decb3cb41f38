package call

import (
	"fmt"
	"strings"
)

// Direction says who initiated the call
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionIncoming
	DirectionOutgoing
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionUnknown:
		return "unknown"
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// Presentation is the caller-id presentation policy for a handle or name
type Presentation int

const (
	PresentationAllowed Presentation = iota + 1
	PresentationRestricted
	PresentationUnknown
	PresentationPayphone
)

// String returns the string representation of the presentation
func (p Presentation) String() string {
	switch p {
	case PresentationAllowed:
		return "allowed"
	case PresentationRestricted:
		return "restricted"
	case PresentationUnknown:
		return "unknown"
	case PresentationPayphone:
		return "payphone"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// Capabilities is the bitset of operations the backend supports on a call
type Capabilities uint32

const (
	CapHold Capabilities = 1 << iota
	CapSupportHold
	CapMergeConference
	CapSwapConference
	CapRespondViaText
	CapMute
	CapManageConference
	CapVideoLocalTx
	CapVideoLocalRx
	CapVideoRemoteTx
	CapVideoRemoteRx
	CapGenericConference
	// CapSpeedUpAudio lets an answered incoming call take voice-call audio
	// focus before the backend reports it ACTIVE.
	CapSpeedUpAudio
)

var capabilityNames = []struct {
	cap  Capabilities
	name string
}{
	{CapHold, "hold"},
	{CapSupportHold, "support_hold"},
	{CapMergeConference, "merge"},
	{CapSwapConference, "swap"},
	{CapRespondViaText, "respond_via_text"},
	{CapMute, "mute"},
	{CapManageConference, "manage_conference"},
	{CapVideoLocalTx, "video_local_tx"},
	{CapVideoLocalRx, "video_local_rx"},
	{CapVideoRemoteTx, "video_remote_tx"},
	{CapVideoRemoteRx, "video_remote_rx"},
	{CapGenericConference, "generic_conference"},
	{CapSpeedUpAudio, "speed_up_audio"},
}

// Has reports whether every bit of want is set
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// String lists the set capability names
func (c Capabilities) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	return "[" + strings.Join(names, " ") + "]"
}

// ParseCapabilities maps capability names back to bits. Unknown names are skipped.
func ParseCapabilities(names []string) Capabilities {
	var c Capabilities
	for _, name := range names {
		for _, n := range capabilityNames {
			if n.name == strings.TrimSpace(name) {
				c |= n.cap
			}
		}
	}
	return c
}

// VideoState is the bitmask of video directions on a call
type VideoState uint8

const (
	VideoAudioOnly     VideoState = 0
	VideoTxEnabled     VideoState = 1
	VideoRxEnabled     VideoState = 2
	VideoBidirectional VideoState = VideoTxEnabled | VideoRxEnabled
	VideoPaused        VideoState = 4
)

// IsVideo reports whether either video direction is enabled
func (v VideoState) IsVideo() bool {
	return v&(VideoTxEnabled|VideoRxEnabled) != 0
}

// String renders the state as A plus T, R and P flags
func (v VideoState) String() string {
	s := "A"
	if v&VideoTxEnabled != 0 {
		s += "T"
	}
	if v&VideoRxEnabled != 0 {
		s += "R"
	}
	if v&VideoPaused != 0 {
		s += "P"
	}
	return s
}

// GatewayInfo routes an outgoing call through a gateway address while
// remembering the number the user dialed.
type GatewayInfo struct {
	Provider        string
	GatewayAddress  Address
	OriginalAddress Address
}

// Address is a call handle such as "tel:+15551234" or "sip:alice@example.com".
type Address string

const (
	SchemeTel       = "tel"
	SchemeSIP       = "sip"
	SchemeVoicemail = "voicemail"
)

// Scheme returns the URI scheme, defaulting to tel for bare numbers
func (a Address) Scheme() string {
	if i := strings.Index(string(a), ":"); i > 0 {
		return strings.ToLower(string(a)[:i])
	}
	if a == "" {
		return ""
	}
	return SchemeTel
}

// Number returns the scheme-specific part of the address
func (a Address) Number() string {
	if i := strings.Index(string(a), ":"); i > 0 {
		return string(a)[i+1:]
	}
	return string(a)
}

// Normalized strips visual separators from a dialable number. SIP
// addresses are returned unchanged.
func (a Address) Normalized() string {
	n := a.Number()
	if a.Scheme() != SchemeTel {
		return n
	}
	var b strings.Builder
	for _, r := range n {
		switch {
		case r >= '0' && r <= '9', r == '+', r == '*', r == '#', r == ',', r == ';':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameAs compares two addresses by scheme and normalized number
func (a Address) SameAs(other Address) bool {
	if a == "" || other == "" {
		return a == other
	}
	return a.Scheme() == other.Scheme() && a.Normalized() == other.Normalized()
}

// IsPotentialMMI reports whether the number contains a '#', marking a
// possible supplementary-service code.
func (a Address) IsPotentialMMI() bool {
	return a != "" && strings.Contains(a.Number(), "#")
}

// IsPotentialInCallMMI reports whether the number is one of the short codes
// a network accepts while calls are in progress (0, 1x, 2x, 3, 4, 5).
func (a Address) IsPotentialInCallMMI() bool {
	if a.Scheme() != SchemeTel {
		return false
	}
	n := a.Number()
	switch {
	case n == "0", n == "3", n == "4", n == "5":
		return true
	case (strings.HasPrefix(n, "1") || strings.HasPrefix(n, "2")) && len(n) <= 2:
		return true
	}
	return false
}
