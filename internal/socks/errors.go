package socks

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid matches every *ValidationError.
	ErrInvalid = errors.New("socks: invalid field")

	// ErrMalformed matches every *MalformedError.
	ErrMalformed = errors.New("socks: malformed message")

	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("socks: protocol violation")
)

// ValidationError reports an event field outside its allowed domain.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("socks: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MalformedError reports bytes that cannot be any valid message of the
// expected kind. The session should be abandoned.
type MalformedError struct {
	Message string
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("socks: malformed %s: %v", e.Message, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// ProtocolError reports a Send or Recv that the current protocol step does
// not allow, or a peer message that contradicts what was negotiated.
type ProtocolError struct {
	Op     string
	State  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("socks: %s in state %s: %s", e.Op, e.State, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}
