package call

import (
	"fmt"
	"strings"
)

// Route is a bitmask of audio routes. A single route has exactly one bit
// set; SupportedRoutes masks combine several.
type Route int

const (
	RouteEarpiece     Route = 0x1
	RouteBluetooth    Route = 0x2
	RouteWiredHeadset Route = 0x4
	RouteSpeaker      Route = 0x8

	// RouteWiredOrEarpiece resolves to whichever of wired headset or
	// earpiece is currently available.
	RouteWiredOrEarpiece Route = RouteEarpiece | RouteWiredHeadset
	RouteAll             Route = RouteEarpiece | RouteBluetooth | RouteWiredHeadset | RouteSpeaker
)

// String lists the route names in the mask
func (r Route) String() string {
	var names []string
	if r&RouteEarpiece != 0 {
		names = append(names, "EARPIECE")
	}
	if r&RouteBluetooth != 0 {
		names = append(names, "BLUETOOTH")
	}
	if r&RouteWiredHeadset != 0 {
		names = append(names, "WIRED_HEADSET")
	}
	if r&RouteSpeaker != 0 {
		names = append(names, "SPEAKER")
	}
	if len(names) == 0 {
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
	return strings.Join(names, "|")
}

// ParseRoute parses a single route name
func ParseRoute(s string) (Route, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EARPIECE":
		return RouteEarpiece, true
	case "BLUETOOTH":
		return RouteBluetooth, true
	case "WIRED_HEADSET", "WIRED":
		return RouteWiredHeadset, true
	case "SPEAKER":
		return RouteSpeaker, true
	case "WIRED_OR_EARPIECE":
		return RouteWiredOrEarpiece, true
	}
	return 0, false
}

// AudioState is the authoritative audio routing snapshot. It is a value:
// changes produce a new AudioState so observers can compare old and new.
type AudioState struct {
	Muted           bool
	Route           Route
	SupportedRoutes Route
}

// Supports reports whether route is in the supported mask
func (s AudioState) Supports(route Route) bool {
	return s.SupportedRoutes&route != 0
}

// String returns a compact form for logs
func (s AudioState) String() string {
	return fmt.Sprintf("[AudioState muted=%t route=%s supported=%s]", s.Muted, s.Route, s.SupportedRoutes)
}
