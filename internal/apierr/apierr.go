// Package apierr defines the stable error kinds surfaced across the trading
// core so callers can branch on a fixed vocabulary instead of string-matching
// exchange messages or Go error text.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error identifiers callers may compare against.
type Kind string

const (
	AuthNotConfigured  Kind = "auth_not_configured"
	InvalidOrder       Kind = "invalid_order"
	UnknownSymbol      Kind = "unknown_symbol"
	PolicyDenied       Kind = "policy_denied"
	RateLimited        Kind = "rate_limited"
	CircuitOpen        Kind = "circuit_open"
	TransportError     Kind = "transport_error"
	NonceConflict      Kind = "nonce_conflict"
	ExchangeError      Kind = "exchange_error"
	PoolSaturated      Kind = "pool_saturated"
	WSNotConnected     Kind = "ws_not_connected"
	DeadManSwitchFail  Kind = "dead_man_switch_failed"
	DuplicateRequest   Kind = "duplicate_request"
	InternalError      Kind = "internal_error"
	InvalidTimezone    Kind = "invalid_timezone"
)

// Error wraps a stable Kind, an optional sanitized details bag, and the
// underlying cause (never surfaced to callers outside this process).
type Error struct {
	Kind    Kind
	Reason  string         // sub-reason, e.g. "outside_trading_window" for PolicyDenied
	Details map[string]any // sanitized, enumerated fields only
	cause   error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Reason != "" {
		s += ":" + e.Reason
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", s, e.cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// StableCode is the wire-safe identifier clients are shown, following the
// `{success:false, error:"<stable_kind>"}` envelope contract.
func (e *Error) StableCode() string {
	if e.Reason != "" {
		return string(e.Kind) + ":" + e.Reason
	}
	return string(e.Kind)
}

// New builds an Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error that carries cause for logging/debugging but never
// leaks cause's text through StableCode.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// WithDetails attaches a sanitized details bag and returns the same Error
// for chaining at the construction site.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// Is reports whether err (or something it wraps) carries Kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}
