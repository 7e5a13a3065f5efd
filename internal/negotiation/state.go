package negotiation

import "fmt"

// State is the negotiation lifecycle position of a Machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingLocalMedia
	StateJoining
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting-local-media"
	case StateJoining:
		return "joining"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role is the side of the offer/answer exchange this machine plays in the
// current negotiation attempt.
type Role int

const (
	RoleNone Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Transition is reported to state observers after every state change.
// Err is set only when the machine closed because of a failure.
type Transition struct {
	From State
	To   State
	Role Role
	Err  error
}
