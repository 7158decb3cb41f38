package peripheral

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DockState is the kind of dock the device sits in
type DockState int

const (
	DockUndocked DockState = iota
	DockDesk
	DockCar
	DockLowEndDesk
	DockHighEndDesk
)

// String returns the string representation of the dock state
func (d DockState) String() string {
	switch d {
	case DockUndocked:
		return "undocked"
	case DockDesk:
		return "desk"
	case DockCar:
		return "car"
	case DockLowEndDesk:
		return "le_desk"
	case DockHighEndDesk:
		return "he_desk"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// ParseDockState parses the names produced by String
func ParseDockState(s string) (DockState, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := DockUndocked; d <= DockHighEndDesk; d++ {
		if d.String() == s {
			return d, true
		}
	}
	return DockUndocked, false
}

// DockMonitor tracks whether the device is docked.
type DockMonitor struct {
	mu        sync.Mutex
	state     DockState
	post      Poster
	listeners listenerSet[func(docked bool)]
}

// NewDockMonitor creates an undocked monitor
func NewDockMonitor(post Poster) *DockMonitor {
	if post == nil {
		post = inline
	}
	return &DockMonitor{post: post}
}

// State returns the current dock state
func (m *DockMonitor) State() DockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsDocked reports whether any dock is attached
func (m *DockMonitor) IsDocked() bool {
	return m.State() != DockUndocked
}

// AddListener registers fn for docked/undocked changes and returns its unregister func
func (m *DockMonitor) AddListener(fn func(docked bool)) func() {
	return m.listeners.add(fn)
}

// OnDockChanged is the event receiver for dock broadcasts. Switching between
// dock kinds without undocking does not notify listeners.
func (m *DockMonitor) OnDockChanged(state DockState) {
	m.post(func() {
		m.mu.Lock()
		wasDocked := m.state != DockUndocked
		m.state = state
		m.mu.Unlock()

		docked := state != DockUndocked
		if wasDocked == docked {
			return
		}
		slog.Info("[Dock] Dock state changed", "state", state.String())
		for _, fn := range m.listeners.snapshot() {
			fn(docked)
		}
	})
}
