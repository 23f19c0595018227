// Package dfserrors classifies domain failures into the small set of kinds
// the wire protocol needs to render as one-line `Error:`/`ERROR:` messages.
// Handlers work with these typed errors internally; only the outermost
// connection loop in each of the name server and storage server translates
// them to wire text (see §7 of the specification).
package dfserrors

import "fmt"

// Kind categorizes a domain error for translation to a wire-protocol line.
type Kind int

const (
	// KindNotFound: file, checkpoint tag, or undo history absent.
	KindNotFound Kind = iota

	// KindDenied: caller lacks read or write access.
	KindDenied

	// KindConflict: file/tag already exists, or a sentence lock is held.
	KindConflict

	// KindRange: sentence or word index outside the valid range.
	KindRange

	// KindTransport: a downstream dial/send/recv failed.
	KindTransport

	// KindAuth: missing or invalid credentials.
	KindAuth

	// KindInternal: unexpected failure (filesystem error, allocation, bug).
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDenied:
		return "denied"
	case KindConflict:
		return "conflict"
	case KindRange:
		return "range"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	default:
		return "internal"
	}
}

// Error is a domain error carrying a Kind and a human-readable message ready
// to be sent over the wire.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a domain error that also carries an underlying cause, used for
// internal/transport errors where the cause is logged but not sent verbatim.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound, Denied, Conflict, Range, Transport, Auth, Internal are
// convenience constructors for the corresponding Kind.
func NotFound(format string, args ...any) *Error  { return New(KindNotFound, format, args...) }
func Denied(format string, args ...any) *Error    { return New(KindDenied, format, args...) }
func Conflict(format string, args ...any) *Error  { return New(KindConflict, format, args...) }
func Range(format string, args ...any) *Error     { return New(KindRange, format, args...) }
func Auth(format string, args ...any) *Error      { return New(KindAuth, format, args...) }
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, format, args...)
}
func Transport(cause error, format string, args ...any) *Error {
	return Wrap(KindTransport, cause, format, args...)
}

// As reports whether err is a *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// WireLine renders err as the one-line message the spec's §7 requires.
// Every other error is rendered as a generic internal failure, matching the
// spec's instruction to "return a generic message, log at ERROR" for
// anything not already classified.
func WireLine(err error) string {
	if err == nil {
		return ""
	}
	de, ok := As(err)
	if !ok {
		return "ERROR: internal error\n"
	}
	switch de.Kind {
	case KindAuth:
		return fmt.Sprintf("Error: %s\n", de.Message)
	case KindDenied, KindNotFound, KindConflict, KindRange, KindTransport:
		return fmt.Sprintf("Error: %s\n", de.Message)
	default:
		return "ERROR: internal error\n"
	}
}
