package peripheral

import (
	"log/slog"
	"sync/atomic"
)

// WiredHeadsetMonitor tracks whether a wired headset is plugged in.
type WiredHeadsetMonitor struct {
	plugged   atomic.Bool
	post      Poster
	listeners listenerSet[func(oldPlugged, newPlugged bool)]
}

// NewWiredHeadsetMonitor creates a monitor with the initial plug state
func NewWiredHeadsetMonitor(pluggedIn bool, post Poster) *WiredHeadsetMonitor {
	if post == nil {
		post = inline
	}
	m := &WiredHeadsetMonitor{post: post}
	m.plugged.Store(pluggedIn)
	return m
}

// IsPluggedIn reports the current plug state
func (m *WiredHeadsetMonitor) IsPluggedIn() bool {
	return m.plugged.Load()
}

// AddListener registers fn for plug changes and returns its unregister func
func (m *WiredHeadsetMonitor) AddListener(fn func(oldPlugged, newPlugged bool)) func() {
	return m.listeners.add(fn)
}

// OnPlugChanged is the event receiver for headset plug broadcasts
func (m *WiredHeadsetMonitor) OnPlugChanged(pluggedIn bool) {
	m.post(func() {
		old := m.plugged.Swap(pluggedIn)
		if old == pluggedIn {
			return
		}
		slog.Info("[Wired] Headset plug changed", "from", old, "to", pluggedIn)
		for _, fn := range m.listeners.snapshot() {
			fn(old, pluggedIn)
		}
	})
}
