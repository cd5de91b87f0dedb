package epoxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies the category of an Epoxy-level error. The numbering is
// intentionally extensible: new codes may be appended without disturbing the
// meaning of existing ones.
type ErrorCode int

const (
	// CodeProtocolError marks a malformed frame, an unknown framelet type, or
	// an EOF encountered mid-frame. A rejected handshake surfaces with the
	// code the rejecting side chose, not necessarily this one.
	CodeProtocolError ErrorCode = iota + 1
	// CodeTransportError marks a socket I/O failure.
	CodeTransportError
	// CodeConnectionShutDown marks a response that can never arrive because
	// the connection has entered or is entering a terminal state.
	CodeConnectionShutDown
	// CodeMethodNotFound marks a request for a method the ServiceHost does
	// not recognise.
	CodeMethodNotFound
	// CodeDuplicateID marks an attempt to register two pending responses
	// under the same request ID.
	CodeDuplicateID
	// CodeInvalidArgument marks synchronous API misuse: a bad address, a nil
	// handler, an empty framelet, and similar.
	CodeInvalidArgument
	// CodeInvalidOperation marks synchronous lifecycle misuse: installing a
	// second log handler, writing an empty frame. (A request ID added twice
	// is reported as CodeDuplicateID.)
	CodeInvalidOperation
	// CodeApplicationError marks an error value returned (or panicked) by a
	// user-supplied handler; it is delivered as a response, not a connection
	// failure.
	CodeApplicationError
	// CodeUnauthorized is reserved for downstream services built on top of
	// this core; nothing in this package returns it.
	CodeUnauthorized
)

func (c ErrorCode) String() string {
	switch c {
	case CodeProtocolError:
		return "ProtocolError"
	case CodeTransportError:
		return "TransportError"
	case CodeConnectionShutDown:
		return "ConnectionShutDown"
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeDuplicateID:
		return "DuplicateId"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeInvalidOperation:
		return "InvalidOperation"
	case CodeApplicationError:
		return "ApplicationError"
	case CodeUnauthorized:
		return "Unauthorized"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is the wire- and API-level error value exchanged between peers and
// returned from this package's synchronous calls. It carries an integer code
// plus a human-readable message, matching the Message envelope's error side.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("epoxy: %s: %s", e.Code, e.Msg)
}

// NewError builds an *Error with the given code and formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// shutdownError is the canonical error used to resolve pending and future
// response slots once a connection's ResponseMap has shut down.
func shutdownError() *Error {
	return &Error{Code: CodeConnectionShutDown, Msg: "connection shut down"}
}

// wrapTransport prefixes a raw socket error's message with
// "epoxy: transport:" and attaches a stack via pkg/errors so %+v on the
// returned error points back at the read/write call that failed. The result
// is not an *Error: AsEpoxyError finds one only if the wrapped cause is.
func wrapTransport(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "epoxy: transport: "+format, args...)
}

// wrapProtocol prefixes a codec/framing error's message with
// "epoxy: protocol:" and attaches a stack trace; like wrapTransport, it
// leaves the cause (and any *Error code it carries) unchanged.
func wrapProtocol(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "epoxy: protocol: "+format, args...)
}

// AsEpoxyError extracts the *Error carried by err, if any. Errors produced by
// this package's own *Error values satisfy this directly; errors.Wrap-ed
// causes are unwrapped via errors.Cause first.
func AsEpoxyError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if ee, ok := errors.Cause(err).(*Error); ok {
		return ee, true
	}
	if ee, ok := err.(*Error); ok {
		return ee, true
	}
	return nil, false
}
