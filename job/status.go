package job

import "fmt"

// Status is the lifecycle state of a job. The numeric codes are part of the
// query surface and are stored as-is; never reorder them.
type Status int16

const (
	StatusOpen Status = iota
	StatusTaken
	StatusCompleted
	StatusClosed
	StatusCancelled
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusTaken:
		return "taken"
	case StatusCompleted:
		return "completed"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// Valid reports whether s is a known status code.
func (s Status) Valid() bool {
	return s >= StatusOpen && s <= StatusDisputed
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle graph has an edge s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusTaken || next == StatusCancelled
	case StatusTaken:
		return next == StatusCompleted || next == StatusDisputed
	case StatusCompleted:
		return next == StatusClosed || next == StatusDisputed
	case StatusDisputed:
		return next == StatusClosed
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
