// Package errs implements the error-kind taxonomy used across the
// signalling, media, agent, and persistence planes. Kinds are carried
// as structured data, not as distinguishable error types, so callers
// can branch on Kind() without a long type switch.
package errs

import "fmt"

// Kind is one of the error classes from the error-handling design.
type Kind string

const (
	Protocol        Kind = "PROTOCOL"
	Auth            Kind = "AUTH"
	Resource        Kind = "RESOURCE"
	MediaTransient  Kind = "MEDIA_TRANSIENT"
	MediaFatal      Kind = "MEDIA_FATAL"
	STTRotate       Kind = "STT_ROTATE"
	STTFatal        Kind = "STT_FATAL"
	NodeDeadline    Kind = "NODE_DEADLINE"
	Persistence     Kind = "PERSISTENCE"
	AgentFatal      Kind = "AGENT_FATAL"
)

// Error wraps an underlying cause with a Kind and a stable Code used
// in outbound `error` events.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind/code with a message.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds an Error of the given kind/code, wrapping an underlying cause.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// Common, stable codes referenced from §7/§6 of the spec.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeMalformed        = "MALFORMED_MESSAGE"
	CodeBufferOverrun    = "BUFFER_OVERRUN"
	CodeTransportClosed  = "TRANSPORT_CLOSED"
	CodeRoomClosed       = "ROOM_CLOSED"
	CodeDuplicateJoin    = "DUPLICATE_JOIN"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodeTooManyRooms     = "TOO_MANY_ROOMS"
	CodeBadState         = "BAD_STATE"
	CodeConnectionFailed = "CONNECTION_FAILED"
)
