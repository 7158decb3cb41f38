package backend

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ServiceState is the cellular radio's registration state
type ServiceState int32

const (
	ServiceInService ServiceState = iota
	ServiceOutOfService
	ServiceEmergencyOnly
	ServicePowerOff
)

// String returns the string representation of the state
func (s ServiceState) String() string {
	switch s {
	case ServiceInService:
		return "IN_SERVICE"
	case ServiceOutOfService:
		return "OUT_OF_SERVICE"
	case ServiceEmergencyOnly:
		return "EMERGENCY_ONLY"
	case ServicePowerOff:
		return "POWER_OFF"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// ParseServiceState parses the String form, case-insensitively
func ParseServiceState(s string) (ServiceState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_SERVICE":
		return ServiceInService, true
	case "OUT_OF_SERVICE":
		return ServiceOutOfService, true
	case "EMERGENCY_ONLY":
		return ServiceEmergencyOnly, true
	case "POWER_OFF":
		return ServicePowerOff, true
	}
	return ServiceInService, false
}

// Network reports the connectivity the emergency timeout depends on
type Network interface {
	ServiceState() ServiceState
	IsWifiConnected() bool
}

// NetworkMonitor holds the last reported radio and wifi state.
// Thread Safety: All methods are safe for concurrent use.
type NetworkMonitor struct {
	state atomic.Int32
	wifi  atomic.Bool
}

// NewNetworkMonitor creates a monitor with the given initial state
func NewNetworkMonitor(state ServiceState, wifi bool) *NetworkMonitor {
	m := &NetworkMonitor{}
	m.state.Store(int32(state))
	m.wifi.Store(wifi)
	return m
}

func (m *NetworkMonitor) ServiceState() ServiceState { return ServiceState(m.state.Load()) }
func (m *NetworkMonitor) IsWifiConnected() bool      { return m.wifi.Load() }

// SetServiceState records a radio state change
func (m *NetworkMonitor) SetServiceState(s ServiceState) { m.state.Store(int32(s)) }

// SetWifiConnected records a wifi connectivity change
func (m *NetworkMonitor) SetWifiConnected(on bool) { m.wifi.Store(on) }
