package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Stream is the audio stream focus is requested for
type Stream int

const (
	StreamNone Stream = iota
	StreamVoiceCall
	StreamRing
)

// String returns the string representation of the stream
func (s Stream) String() string {
	switch s {
	case StreamNone:
		return "STREAM_NONE"
	case StreamVoiceCall:
		return "STREAM_VOICE_CALL"
	case StreamRing:
		return "STREAM_RING"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Mode is the platform audio mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeRingtone
	ModeInCall
	ModeInCommunication
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "MODE_NORMAL"
	case ModeRingtone:
		return "MODE_RINGTONE"
	case ModeInCall:
		return "MODE_IN_CALL"
	case ModeInCommunication:
		return "MODE_IN_COMMUNICATION"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Hardware is the fire-and-forget side of the audio driver the router
// talks to. Implementations must not block the caller.
type Hardware interface {
	RequestFocus(stream Stream)
	AbandonFocus()
	SetMode(mode Mode)
	SetSpeakerphoneOn(on bool)
	SetMicrophoneMute(muted bool)
}

// Driver is the platform audio driver. Its calls may block.
type Driver interface {
	RequestFocus(stream Stream)
	AbandonFocus()
	Mode() Mode
	SetMode(mode Mode)
	IsSpeakerphoneOn() bool
	SetSpeakerphoneOn(on bool)
	IsMicrophoneMute() bool
	SetMicrophoneMute(muted bool)
}

// DefaultQueueSize bounds the number of driver requests waiting for the worker
const DefaultQueueSize = 64

// HardwareQueue implements Hardware by handing every request to a single
// worker goroutine that applies it to a Driver in submission order.
type HardwareQueue struct {
	driver Driver
	jobs   chan func(Driver)

	mu     sync.Mutex
	closed bool
}

// NewHardwareQueue creates a queue in front of driver. Requests are
// buffered until Run starts draining them.
func NewHardwareQueue(driver Driver, size int) *HardwareQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &HardwareQueue{
		driver: driver,
		jobs:   make(chan func(Driver), size),
	}
}

// Run applies queued requests until ctx is cancelled or Close is called
func (q *HardwareQueue) Run(ctx context.Context) error {
	slog.Debug("[AudioHW] Worker started")
	defer slog.Debug("[AudioHW] Worker stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			job(q.driver)
		}
	}
}

// Close stops accepting requests; Run returns once the backlog is drained
func (q *HardwareQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *HardwareQueue) submit(name string, job func(Driver)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- job:
	default:
		slog.Error("[AudioHW] Queue full, dropping request", "request", name)
	}
}

// RequestFocus implements Hardware
func (q *HardwareQueue) RequestFocus(stream Stream) {
	q.submit("request_focus", func(d Driver) { d.RequestFocus(stream) })
}

// AbandonFocus implements Hardware
func (q *HardwareQueue) AbandonFocus() {
	q.submit("abandon_focus", func(d Driver) { d.AbandonFocus() })
}

// SetMode implements Hardware. Going straight from in-call to ringtone
// passes through normal first.
func (q *HardwareQueue) SetMode(mode Mode) {
	q.submit("set_mode", func(d Driver) {
		old := d.Mode()
		if old == mode {
			return
		}
		if old == ModeInCall && mode == ModeRingtone {
			slog.Info("[AudioHW] Transition from IN_CALL to RINGTONE, resetting to NORMAL first")
			d.SetMode(ModeNormal)
		}
		slog.Debug("[AudioHW] Changing mode", "from", old.String(), "to", mode.String())
		d.SetMode(mode)
	})
}

// SetSpeakerphoneOn implements Hardware
func (q *HardwareQueue) SetSpeakerphoneOn(on bool) {
	q.submit("set_speakerphone", func(d Driver) {
		if d.IsSpeakerphoneOn() != on {
			slog.Info("[AudioHW] Turning speakerphone", "on", on)
			d.SetSpeakerphoneOn(on)
		}
	})
}

// SetMicrophoneMute implements Hardware
func (q *HardwareQueue) SetMicrophoneMute(muted bool) {
	q.submit("set_mic_mute", func(d Driver) {
		if d.IsMicrophoneMute() != muted {
			slog.Info("[AudioHW] Changing microphone mute", "muted", muted)
			d.SetMicrophoneMute(muted)
		}
	})
}

// MemoryDriver is an in-process Driver that only records its state. It
// backs the daemon when no platform audio driver is attached.
type MemoryDriver struct {
	mu         sync.Mutex
	focus      Stream
	mode       Mode
	speaker    bool
	micMuted   bool
	modeSwitch []Mode
}

// NewMemoryDriver creates a driver in normal mode without focus
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{}
}

func (d *MemoryDriver) RequestFocus(stream Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = stream
}

func (d *MemoryDriver) AbandonFocus() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = StreamNone
}

func (d *MemoryDriver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *MemoryDriver) SetMode(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	d.modeSwitch = append(d.modeSwitch, mode)
}

func (d *MemoryDriver) IsSpeakerphoneOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaker
}

func (d *MemoryDriver) SetSpeakerphoneOn(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaker = on
}

func (d *MemoryDriver) IsMicrophoneMute() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.micMuted
}

func (d *MemoryDriver) SetMicrophoneMute(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.micMuted = muted
}

// Focus returns the stream focus is held for
func (d *MemoryDriver) Focus() Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focus
}

// ModeHistory returns every mode set, in order
func (d *MemoryDriver) ModeHistory() []Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Mode(nil), d.modeSwitch...)
}
