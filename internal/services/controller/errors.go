package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingData marks a reading with none of the recognized sensor values. It is discarded, not evaluated.
	ErrMissingData = errors.New("reading has no recognized sensor value")
	// ErrDuplicateRule is returned by Add when the id is already in the store.
	ErrDuplicateRule = errors.New("duplicate rule id")
	// ErrInvalidRule wraps every validation failure of a rule config.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrNoTransport is returned while the controller runs without a broker connection.
	ErrNoTransport = errors.New("control disabled: transport unavailable")
)

// DecodeError is a malformed inbound payload.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PublishError is a command or alert the transport did not accept in time.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// UnknownActionError is a fired rule whose action is outside the valve vocabulary.
type UnknownActionError struct {
	RuleID string
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("rule %s: unknown action %q", e.RuleID, e.Action)
}

func invalidRule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}
