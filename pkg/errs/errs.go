// Package errs defines the coded errors surfaced by the coordination server.
//
// Every failure that crosses a component boundary is tagged with a Kind so
// that callers (and the HTTP layer) can branch on the class of failure
// without parsing message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	// Unauthorized covers every authentication failure: unknown binding,
	// non-member, bad signature. They are never distinguished to the caller.
	Unauthorized Kind = iota + 1
	// Conflict signals a duplicate team or duplicate proposal.
	Conflict
	// PreconditionFailed signals an operation attempted in the wrong phase.
	PreconditionFailed
	// InvalidProof signals a partial proof rejected by the consistency filter.
	InvalidProof
	// NotFound signals an unknown proposal, team or binding.
	NotFound
	// EngineFailure signals the transcript engine rejected its input.
	EngineFailure
	// NodeUnavailable signals a failed node RPC. It is never surfaced to API
	// callers; the broadcast supervisor records and retries it.
	NodeUnavailable
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case PreconditionFailed:
		return "precondition failed"
	case InvalidProof:
		return "invalid proof"
	case NotFound:
		return "not found"
	case EngineFailure:
		return "engine failure"
	case NodeUnavailable:
		return "node unavailable"
	}
	return "unknown"
}

// Error is a Kind-tagged error. The message stays terse; Unauthorized in
// particular must not leak which check failed.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// E builds a new coded error.
func E(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports kind equality, so errors.Is(err, errs.E(kind, "")) works for
// sentinel comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// KindOf extracts the Kind of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
