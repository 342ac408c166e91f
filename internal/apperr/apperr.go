// Package apperr defines the error-kind taxonomy used across hopper.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for logging and for deciding whether a
// Login-state client should receive a Disconnect packet before the
// socket closes.
type Kind string

const (
	KindProtocol     Kind = "protocol"
	KindInvalid      Kind = "invalid"
	KindNoServer     Kind = "no_server"
	KindConnect      Kind = "connect"
	KindTimeOut      Kind = "timeout"
	KindDisconnected Kind = "disconnected"
	KindConfig       Kind = "config"
	KindBind         Kind = "bind"
	KindSignal       Kind = "signal"
	KindMetrics      Kind = "metrics"
)

// Error is hopper's unified error type. Every error that crosses a
// packet-decode or dial boundary is wrapped into one of these so
// callers can branch on Kind without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error, preserving a
// stack trace via pkg/errors so the original call site survives log
// propagation.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: errors.WithStack(err)}
}

// DisconnectsLogin reports whether a Login-state connection failing
// with this Kind should receive a Disconnect chat packet before the
// socket is closed, per the pre-splice failure contract.
func DisconnectsLogin(kind Kind) bool {
	switch kind {
	case KindProtocol, KindInvalid, KindNoServer, KindConnect, KindTimeOut:
		return true
	default:
		return false
	}
}
