package schema

import (
	"errors"
	"fmt"
)

// TurnError ends a user turn without an answer. It names the failure kind
// and, where one is involved, the tool and server.
type TurnError struct {
	Kind    ErrorKind
	Tool    string
	Server  string
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	msg := string(e.Kind)
	if e.Tool != "" {
		msg += " (tool " + e.Tool
		if e.Server != "" {
			msg += " on " + e.Server
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TurnError) Unwrap() error { return e.Err }

// NewTurnError builds a TurnError with a formatted message.
func NewTurnError(kind ErrorKind, err error, format string, args ...any) *TurnError {
	return &TurnError{Kind: kind, Err: err, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind carried by err, or "" if there is none.
func KindOf(err error) ErrorKind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var k interface{ ErrorKind() ErrorKind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return ""
}
