package call

import "fmt"

// State represents the lifecycle state of a call
type State int

const (
	// StateNew is the state of a call that has been created but not yet attached to a backend
	StateNew State = iota
	// StateConnecting is an outgoing call waiting for a connection service to accept it
	StateConnecting
	// StateSelectAccount is an outgoing call waiting for the user to choose an account
	StateSelectAccount
	// StateDialing is an outgoing call the backend has started to place
	StateDialing
	// StateRinging is an incoming call being presented to the user
	StateRinging
	// StateActive is a connected call carrying audio
	StateActive
	// StateOnHold is a connected call that is held
	StateOnHold
	// StateDisconnecting is a call the user asked to end, awaiting backend confirmation
	StateDisconnecting
	// StateDisconnected is the terminal state of a call that was attached to a backend
	StateDisconnected
	// StateAborted is the terminal state of a call that never finished connecting
	StateAborted
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateSelectAccount:
		return "SELECT_ACCOUNT"
	case StateDialing:
		return "DIALING"
	case StateRinging:
		return "RINGING"
	case StateActive:
		return "ACTIVE"
	case StateOnHold:
		return "ON_HOLD"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// ParseState parses the upper-case state name produced by String.
func ParseState(s string) (State, bool) {
	for st := StateNew; st <= StateAborted; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateNew, false
}

// expectedTransitions lists the transitions a well-behaved backend produces.
// Backends are not always well behaved, so unexpected transitions are logged
// and still applied.
var expectedTransitions = map[State][]State{
	StateNew:           {StateConnecting, StateSelectAccount, StateRinging, StateDialing, StateActive, StateOnHold, StateDisconnected, StateAborted},
	StateConnecting:    {StateSelectAccount, StateDialing, StateRinging, StateActive, StateOnHold, StateDisconnected, StateAborted},
	StateSelectAccount: {StateConnecting, StateDisconnected, StateAborted},
	StateDialing:       {StateActive, StateOnHold, StateDisconnecting, StateDisconnected},
	StateRinging:       {StateActive, StateOnHold, StateDisconnecting, StateDisconnected},
	StateActive:        {StateOnHold, StateDisconnecting, StateDisconnected},
	StateOnHold:        {StateActive, StateDisconnecting, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
	StateDisconnected:  {},
	StateAborted:       {},
}

// CanTransitionTo checks if a transition from current state to next state is expected
func (s State) CanTransitionTo(next State) bool {
	for _, state := range expectedTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateAborted
}

// IsOutgoing reports whether the state belongs to a call still being placed.
func (s State) IsOutgoing() bool {
	switch s {
	case StateConnecting, StateSelectAccount, StateDialing:
		return true
	}
	return false
}

// LiveStates are the states counted against the live-call limit.
var LiveStates = []State{StateConnecting, StateSelectAccount, StateDialing, StateActive}

// OutgoingStates are the states of a call that is still being placed.
var OutgoingStates = []State{StateConnecting, StateSelectAccount, StateDialing}
