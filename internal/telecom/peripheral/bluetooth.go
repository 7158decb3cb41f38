package peripheral

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultPendingWindow is how long a requested Bluetooth audio connection
// is reported as connected before the headset confirms it.
const DefaultPendingWindow = 5 * time.Second

// Headset is the Bluetooth headset profile: the platform side of the
// monitor. ConnectAudio and DisconnectAudio return immediately; the audio
// link comes up or goes down later and is reported through
// BluetoothMonitor.OnStateChanged.
type Headset interface {
	ConnectedDevices() []string
	IsAudioConnected(device string) bool
	ConnectAudio() bool
	DisconnectAudio() bool
}

// BluetoothMonitor tracks Bluetooth headset availability and the audio link.
type BluetoothMonitor struct {
	mu            sync.Mutex
	headset       Headset
	pending       bool
	requestedAt   time.Time
	pendingWindow time.Duration
	now           func() time.Time

	post      Poster
	listeners listenerSet[func()]
}

// BluetoothOption configures a BluetoothMonitor
type BluetoothOption func(*BluetoothMonitor)

// WithPendingWindow overrides DefaultPendingWindow
func WithPendingWindow(d time.Duration) BluetoothOption {
	return func(m *BluetoothMonitor) {
		if d > 0 {
			m.pendingWindow = d
		}
	}
}

// WithBluetoothClock overrides time.Now
func WithBluetoothClock(now func() time.Time) BluetoothOption {
	return func(m *BluetoothMonitor) {
		m.now = now
	}
}

// WithBluetoothPoster runs state-change callbacks through post
func WithBluetoothPoster(post Poster) BluetoothOption {
	return func(m *BluetoothMonitor) {
		if post != nil {
			m.post = post
		}
	}
}

// NewBluetoothMonitor creates a monitor. headset may be nil on devices
// without Bluetooth, or until the profile service connects.
func NewBluetoothMonitor(headset Headset, opts ...BluetoothOption) *BluetoothMonitor {
	m := &BluetoothMonitor{
		headset:       headset,
		pendingWindow: DefaultPendingWindow,
		now:           time.Now,
		post:          inline,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHeadset attaches or detaches the headset profile and reports the change
func (m *BluetoothMonitor) SetHeadset(h Headset) {
	m.mu.Lock()
	m.headset = h
	m.mu.Unlock()
	slog.Debug("[Bluetooth] Headset profile changed", "attached", h != nil)
	m.OnStateChanged()
}

// AddListener registers fn for Bluetooth state changes and returns its unregister func
func (m *BluetoothMonitor) AddListener(fn func()) func() {
	return m.listeners.add(fn)
}

// OnStateChanged is the event receiver for headset connection and audio
// broadcasts. Listeners re-read the monitor's state.
func (m *BluetoothMonitor) OnStateChanged() {
	m.post(func() {
		for _, fn := range m.listeners.snapshot() {
			fn()
		}
	})
}

// IsAvailable reports whether a headset is connected
func (m *BluetoothMonitor) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headset != nil && len(m.headset.ConnectedDevices()) > 0
}

// IsAudioConnected reports whether any connected headset carries call audio
func (m *BluetoothMonitor) IsAudioConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioConnectedLocked()
}

func (m *BluetoothMonitor) audioConnectedLocked() bool {
	if m.headset == nil {
		return false
	}
	for _, d := range m.headset.ConnectedDevices() {
		if m.headset.IsAudioConnected(d) {
			return true
		}
	}
	return false
}

// IsAudioConnectedOrPending reports audio as connected while a connect
// request is younger than the pending window, so the route does not flicker
// during the headset's connect latency.
func (m *BluetoothMonitor) IsAudioConnectedOrPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audioConnectedLocked() {
		return true
	}
	if !m.pending {
		return false
	}
	if m.now().Sub(m.requestedAt) < m.pendingWindow {
		return true
	}
	m.pending = false
	return false
}

// ConnectAudio requests the Bluetooth audio link
func (m *BluetoothMonitor) ConnectAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	slog.Debug("[Bluetooth] Connecting audio")
	if m.headset != nil {
		m.headset.ConnectAudio()
	}
	m.pending = true
	m.requestedAt = m.now()
}

// DisconnectAudio releases the Bluetooth audio link
func (m *BluetoothMonitor) DisconnectAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	slog.Debug("[Bluetooth] Disconnecting audio")
	if m.headset != nil {
		m.headset.DisconnectAudio()
	}
	m.pending = false
}
