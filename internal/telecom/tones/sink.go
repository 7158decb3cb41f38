package tones

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// PayloadTypePCMU is the static RTP payload type of G.711 µ-law
const PayloadTypePCMU uint8 = 0

// Sink receives encoded tone frames. Players pace their writes, so
// WriteFrame must not block on timing.
type Sink interface {
	// WriteFrame writes one frame; marker flags the start of a tone burst
	WriteFrame(payload []byte, marker bool) error
}

// DiscardSink drops every frame
type DiscardSink struct{}

// WriteFrame implements Sink
func (DiscardSink) WriteFrame([]byte, bool) error { return nil }

// RTPSink packetizes frames as RTP and sends them to a remote address.
// The SSRC, sequence number and timestamp start at random values.
type RTPSink struct {
	conn       net.PacketConn
	remoteAddr net.Addr

	mu        sync.Mutex
	ssrc      uint32
	pt        uint8
	seq       uint16
	timestamp uint32
	closed    bool
}

// NewRTPSink creates a sink writing PCMU packets on conn to remote. Frames
// are dropped while remote is nil.
func NewRTPSink(conn net.PacketConn, remote net.Addr) *RTPSink {
	return &RTPSink{
		conn:       conn,
		remoteAddr: remote,
		ssrc:       randomUint32(),
		pt:         PayloadTypePCMU,
		seq:        uint16(randomUint32()),
		timestamp:  randomUint32(),
	}
}

// WriteFrame implements Sink
func (s *RTPSink) WriteFrame(payload []byte, marker bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return net.ErrClosed
	}
	if s.remoteAddr == nil {
		return nil
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.pt,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteTo(data, s.remoteAddr); err != nil {
		return err
	}

	s.seq++
	s.timestamp += uint32(len(payload))
	return nil
}

// SetRemote redirects the stream to remote; nil pauses it
func (s *RTPSink) SetRemote(remote net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAddr = remote
}

// SSRC returns the stream's synchronization source
func (s *RTPSink) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// Close marks the sink closed and closes the connection
func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}
