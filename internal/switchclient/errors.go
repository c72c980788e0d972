package switchclient

import (
	"errors"
	"fmt"
)

// Kind separates failures the caller may retry (transport) from
// failures the switch itself reported (remote).
type Kind string

const (
	KindTransport Kind = "transport"
	KindRemote    Kind = "remote"
)

// Error is the structured failure returned by every client call. It
// always carries the module and action so callers can log or retry
// with full context.
type Error struct {
	Switch string
	Module string
	Action string
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("switch %s: %s/%s %s failure", e.Switch, e.Module, e.Action, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level switch failure.
func IsTransport(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransport
}

// IsRemote reports whether err is a semantic failure reported by the switch.
func IsRemote(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindRemote
}
