package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrLink is returned when the modem link cannot carry a command or
	// data, either because it is missing or because a write failed.
	//
	// A link error is fatal for the current session. The bridge reacts by
	// redialling the link and resetting the session.
	ErrLink = errors.New("modem link failure")

	// ErrTimeout is reported when a command received no final response
	// before its deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrModemFault is the escalation of repeated timeouts: the modem has
	// stopped answering and the session enters Error.
	ErrModemFault = errors.New("modem not responding")

	// ErrBusy is returned when a command or data write is attempted while
	// another command is still outstanding on the channel.
	ErrBusy = errors.New("command already outstanding")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current session state, for example Open on a session that is not
	// Uninitialized.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNoCall is returned by Hangup and WriteData when no data call is
	// in progress.
	ErrNoCall = errors.New("no call in progress")

	// ErrInvalidConfig is returned by ConfigBuilder.Build for out of range
	// values.
	ErrInvalidConfig = errors.New("invalid modem configuration")
)

// RejectedError is returned when the modem answers a command with an
// error result. Code is the numeric +CME/+CMS code, or one of the negative
// at.Code values for results that carry none.
type RejectedError struct {
	Code int
	Line string
}

func (e *RejectedError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("modem rejected command (code %d)", e.Code)
	}
	return fmt.Sprintf("modem rejected command: %s (code %d)", e.Line, e.Code)
}

// SessionError records which command a session failure is attributed to.
type SessionError struct {
	Command string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Command == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
