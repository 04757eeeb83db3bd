// Package relayer holds the vocabulary shared by the lifecycle controller,
// its transports and its persistence: registration states, lifecycle
// operations, emitted events and the error taxonomy.
package relayer

import "fmt"

// State is the registration state of one relayer identity.
type State uint32

const (
	Unregistered State = iota
	Registered
	Submitting
	Failed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registered:
		return "Registered"
	case Submitting:
		return "Submitting"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "Unregistered":
		return Unregistered, nil
	case "Registered":
		return Registered, nil
	case "Submitting":
		return Submitting, nil
	case "Failed":
		return Failed, nil
	}
	return 0, fmt.Errorf("unknown relayer state %q", s)
}

// Op names one of the four mutating lifecycle operations.
type Op uint8

const (
	OpEnroll Op = iota + 1
	OpReposition
	OpRemove
	OpAdjustCollateral
)

func (o Op) String() string {
	switch o {
	case OpEnroll:
		return "enroll"
	case OpReposition:
		return "reposition"
	case OpRemove:
		return "remove"
	case OpAdjustCollateral:
		return "adjust_collateral"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Settled returns the state an operation leaves behind.
// Only enroll has a distinct failure state; every other failure keeps the
// relayer registered.
func (o Op) Settled(ok bool) State {
	switch o {
	case OpEnroll:
		if ok {
			return Registered
		}
		return Failed
	case OpRemove:
		if ok {
			return Unregistered
		}
		return Registered
	default:
		return Registered
	}
}
