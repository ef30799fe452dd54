// Package rerr defines the error taxonomy shared by every relidp package.
//
// The six codes mirror spec section 7 of the protocol design: InvalidInput
// and State are raised synchronously at the public API boundary; WireDrop,
// ReceiveAbort, SendTimeout and Duplicate never cross the API boundary and
// are instead absorbed into session state changes (see the sender and
// receiver packages).
package rerr

import "fmt"

// Code classifies an Error without regard to its message, so that
// errors.Is(err, rerr.New(rerr.State, "")) works regardless of wording.
type Code int

const (
	InvalidInput Code = iota
	State
	WireDrop
	ReceiveAbort
	SendTimeout
	Duplicate
)

func (c Code) String() string {
	switch c {
	case InvalidInput:
		return "invalid-input"
	case State:
		return "state"
	case WireDrop:
		return "wire-drop"
	case ReceiveAbort:
		return "receive-abort"
	case SendTimeout:
		return "send-timeout"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Error carries a taxonomy Code alongside a human message and an optional
// wrapped cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, rerr.ErrState) match on Code alone, the way a
// sentinel comparison would, while still allowing a distinct message per
// call site.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is comparisons at call sites that don't need a
// custom message.
var (
	ErrInvalidInput = New(InvalidInput, "invalid input")
	ErrState        = New(State, "endpoint closed")
	ErrWireDrop     = New(WireDrop, "dropped malformed or unknown datagram")
	ErrReceiveAbort = New(ReceiveAbort, "receive aborted after exhausting retries")
	ErrSendTimeout  = New(SendTimeout, "send timed out")
	ErrDuplicate    = New(Duplicate, "duplicate fragment")
)
