// Package errkit defines the shared error taxonomy surfaced by every
// component of the governance core (crypto, identity, trust, ledger,
// policy). Hosts get one stable error shape instead of five bespoke
// sentinel sets.
package errkit

import (
	"errors"
	"fmt"
)

// Kind enumerates the recoverable and terminal error classes a component
// can report.
type Kind string

const (
	NotFound            Kind = "NotFound"
	AlreadyExists        Kind = "AlreadyExists"
	AlreadyBound         Kind = "AlreadyBound"
	AlreadyRevoked       Kind = "AlreadyRevoked"
	InvalidInput         Kind = "InvalidInput"
	Crypto               Kind = "CryptoError"
	PolicyDenied         Kind = "PolicyDenied"
	RateLimited          Kind = "RateLimited"
	Expired              Kind = "Expired"
	ParentInvalid        Kind = "ParentInvalid"
	ScopeExceeded        Kind = "ScopeExceeded"
	CorruptState         Kind = "CorruptState"
	Canceled             Kind = "Canceled"
)

// Error is the single typed error shape returned across the core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
