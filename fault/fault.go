// Package fault classifies domain errors into the failure kinds callers act on.
//
// Every package declares its own sentinels with New so that the package
// message stays specific while errors.Is against a kind sentinel still
// answers "what sort of failure was this":
//
//	var ErrNotOpen = fault.New(fault.Precondition, "job: not open")
//
//	if errors.Is(err, fault.ErrPrecondition) { ... }
package fault

import (
	"errors"
	"fmt"
)

// Kind is the failure category of a domain error.
type Kind int

const (
	// Internal covers everything that is not a domain rule violation.
	Internal Kind = iota
	// Authorization means the caller lacks the role or identity for the operation.
	Authorization
	// Precondition means the record is not in the status or window the operation requires.
	Precondition
	// Resource means zero or duplicate funding, missing voting weight, or a missed quorum.
	Resource
	// Transfer means the recipient of a disbursement rejected the value.
	Transfer
	// NotFound means the referenced record does not exist.
	NotFound
	// Invalid means the request itself is malformed.
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Authorization:
		return "authorization"
	case Precondition:
		return "precondition"
	case Resource:
		return "resource"
	case Transfer:
		return "transfer"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Kind sentinels usable with errors.Is.
var (
	ErrAuthorization = &kindError{kind: Authorization}
	ErrPrecondition  = &kindError{kind: Precondition}
	ErrResource      = &kindError{kind: Resource}
	ErrTransfer      = &kindError{kind: Transfer}
	ErrNotFound      = &kindError{kind: NotFound}
	ErrInvalid       = &kindError{kind: Invalid}
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return e.kind.String()
}

// Error is a domain sentinel tagged with a Kind.
type Error struct {
	kind Kind
	msg  string
}

// New declares a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Kind returns the category of the error.
func (e *Error) Kind() Kind {
	return e.kind
}

// Is reports a match against the kind sentinel of the same category.
func (e *Error) Is(target error) bool {
	var k *kindError
	if errors.As(target, &k) {
		return k.kind == e.kind
	}
	return false
}

// Wrap attaches a transfer or other kind to an error coming from a collaborator
// while keeping the original in the chain.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", New(kind, msg), err)
}

// KindOf returns the first Kind found in err's chain, or Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Internal
}
