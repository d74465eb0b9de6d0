// Package dockvirt defines the error taxonomy shared across every component
// and the exit-code mapping consumed by cmd/dockvirt.
package dockvirt

import "fmt"

// Kind is one of the error kinds named in the error handling design. It is a
// classification, not a Go type hierarchy: every layer returns a *Error with
// one of these kinds so the CLI can map it to an exit code.
type Kind string

const (
	ConfigInvalid   Kind = "ConfigInvalid"
	UnknownOS       Kind = "UnknownOS"
	ToolMissing     Kind = "ToolMissing"
	NetworkInactive Kind = "NetworkInactive"
	PoolInactive    Kind = "PoolInactive"
	PermissionDenied Kind = "PermissionDenied"
	ImageFetch      Kind = "ImageFetch"
	DiskCreate      Kind = "DiskCreate"
	DomainCreate    Kind = "DomainCreate"
	SpecConflict    Kind = "SpecConflict"
	LeaseTimeout    Kind = "LeaseTimeout"
	HTTPTimeout     Kind = "HTTPTimeout"
	Cancelled       Kind = "Cancelled"
	Internal        Kind = "Internal"
)

// ExitCode maps a Kind to the process exit code table from the external
// interfaces section. Unknown kinds fall back to the catch-all 1.
func (k Kind) ExitCode() int {
	switch k {
	case ConfigInvalid, UnknownOS:
		return 2
	case ToolMissing, NetworkInactive, PoolInactive, PermissionDenied:
		return 3
	case DomainCreate, SpecConflict:
		return 4
	case LeaseTimeout, HTTPTimeout:
		return 5
	case Cancelled:
		return 6
	default:
		return 1
	}
}

// Error is the concrete error type every component returns. Value is the
// concrete offending value (a path, URL, or name) and Hint is the single
// suggested next step, both required by the user-visible behavior rules.
type Error struct {
	Kind    Kind
	Message string
	Value   string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Value != "" {
		msg += fmt.Sprintf(" (%s)", e.Value)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf(" — %s", e.Hint)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message, value, hint string) *Error {
	return &Error{Kind: kind, Message: message, Value: value, Hint: hint}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, cause error, message, value, hint string) *Error {
	return &Error{Kind: kind, Message: message, Value: value, Hint: hint, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return Internal
	}
	return e.Kind
}
