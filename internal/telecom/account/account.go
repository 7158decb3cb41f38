// Package account models the phone accounts calls are placed on and the
// registry that decides which account a new call uses.
package account

import (
	"fmt"
	"slices"
	"strings"
)

// Handle identifies an account within the connection service that owns it.
type Handle struct {
	ComponentID string `json:"component_id"`
	ID          string `json:"id"`
}

// IsZero reports whether the handle is unset
func (h Handle) IsZero() bool {
	return h.ComponentID == "" && h.ID == ""
}

// String returns "component/id"
func (h Handle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return h.ComponentID + "/" + h.ID
}

// ParseHandle parses the "component/id" form produced by String.
func ParseHandle(s string) (Handle, error) {
	component, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || component == "" || id == "" {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return Handle{ComponentID: component, ID: id}, nil
}

// Capability is a bitset describing what an account can do
type Capability uint32

const (
	CapCallProvider Capability = 1 << iota
	CapConnectionManager
	CapSIMSubscription
	CapPlaceEmergencyCalls
	CapVideoCalling
)

var capabilityNames = map[string]Capability{
	"call_provider":      CapCallProvider,
	"connection_manager": CapConnectionManager,
	"sim_subscription":   CapSIMSubscription,
	"emergency":          CapPlaceEmergencyCalls,
	"video":              CapVideoCalling,
}

// Names lists the names of the capabilities set in c, sorted
func (c Capability) Names() []string {
	var names []string
	for name, bit := range capabilityNames {
		if c&bit != 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Account is a registered phone account.
type Account struct {
	Handle           Handle
	Label            string
	Address          string
	SupportedSchemes []string
	Capabilities     Capability
	Enabled          bool
}

// Has reports whether the account has every capability in c
func (a Account) Has(c Capability) bool {
	return a.Capabilities&c == c
}

// SupportsScheme reports whether calls with the URI scheme can be placed on the account
func (a Account) SupportsScheme(scheme string) bool {
	return slices.Contains(a.SupportedSchemes, strings.ToLower(scheme))
}
