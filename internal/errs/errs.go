// Package errs defines the typed error kinds shared across the tile
// pipeline, per the error handling design in SPEC_FULL.md §7.
package errs

import "fmt"

// Kind is a coarse classification of a pipeline failure, independent of
// the transport that eventually surfaces it.
type Kind int

const (
	// Unknown is the zero value; no pipeline code should produce it.
	Unknown Kind = iota
	// NotFound means the base tile, data version, or zoom is absent.
	NotFound
	// InvalidRequest means the request path/query failed validation
	// before any lookup was attempted (dispatch parse failure).
	InvalidRequest
	// Internal means a backend, render, or invariant failure.
	Internal
	// Timeout means the request's deadline expired.
	Timeout
	// Rendering means the renderer failed on an otherwise valid input.
	Rendering
	// PeerConnect means a peer was unreachable after retries.
	PeerConnect
	// PeerProtocol means a peer returned malformed or partial data.
	PeerProtocol
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidRequest:
		return "invalid_request"
	case Internal:
		return "internal"
	case Timeout:
		return "timeout"
	case Rendering:
		return "rendering"
	case PeerConnect:
		return "peer_connect"
	case PeerProtocol:
		return "peer_protocol"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without string-matching messages.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that were never classified.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Kind
	}
	return Internal
}
