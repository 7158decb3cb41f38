package sipconn

import (
	"fmt"
	"log/slog"
	"net"
	"slices"

	"github.com/pion/sdp/v3"
)

// Media directions (RFC 3264 Section 5.1)
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

// PCMU, PCMA and RFC 4733 events
var offeredFormats = []string{"0", "8", "101"}

var rtpmaps = map[string]string{
	"0":   "PCMU/8000",
	"8":   "PCMA/8000",
	"101": "telephone-event/8000",
}

// Media is the audio endpoint announced by the far end
type Media struct {
	Addr      string
	Port      int
	Direction string
	Formats   []string
}

// UDPAddr returns the RTP destination, or nil when the stream is disabled
func (m Media) UDPAddr() *net.UDPAddr {
	ip := net.ParseIP(m.Addr)
	if ip == nil || ip.IsUnspecified() || m.Port == 0 {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: m.Port}
}

// OnHold reports whether the far end stopped sending to us
func (m Media) OnHold() bool {
	return m.Direction == dirSendOnly || m.Direction == dirInactive
}

// buildSDP describes our audio endpoint. version must grow with every
// offer sent within the same session.
func buildSDP(addr string, port int, sessionID, version uint64, direction string) []byte {
	attrs := make([]sdp.Attribute, 0, len(offeredFormats)+3)
	for _, f := range offeredFormats {
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: f + " " + rtpmaps[f]})
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "fmtp", Value: "101 0-15"},
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: direction},
	)

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "callmanager",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "Call Manager Audio",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: offeredFormats,
				},
				Attributes: attrs,
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		slog.Error("[SIPConn] Failed to marshal SDP", "error", err)
		return nil
	}
	return body
}

// parseMedia extracts the first audio stream of an SDP body
func parseMedia(body []byte) (Media, error) {
	if len(body) == 0 {
		return Media{}, fmt.Errorf("no SDP body")
	}

	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return Media{}, fmt.Errorf("parse SDP: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		m := Media{
			Port:      md.MediaName.Port.Value,
			Direction: dirSendRecv,
			Formats:   md.MediaName.Formats,
		}
		switch {
		case md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil:
			m.Addr = md.ConnectionInformation.Address.Address
		case desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil:
			m.Addr = desc.ConnectionInformation.Address.Address
		}
		for _, a := range slices.Concat(desc.Attributes, md.Attributes) {
			switch a.Key {
			case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
				m.Direction = a.Key
			}
		}
		return m, nil
	}
	return Media{}, fmt.Errorf("no audio stream in SDP")
}

// holdDirection is the direction we offer when (un)holding
func holdDirection(hold bool) string {
	if hold {
		return dirSendOnly
	}
	return dirSendRecv
}
