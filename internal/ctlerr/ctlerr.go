// Package ctlerr defines the closed set of error kinds the controller
// surfaces to its callers (UI, CLI, Synchronizer). Callers branch on kind
// with errors.Is against the sentinel values, not on message text.
package ctlerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	_ Kind = iota
	NotFound
	NotBound
	AlreadyBound
	AmbiguousBinding
	InvalidURL
	NoToken
	Unauthorized
	NetworkError
	CryptoError
	IllegalPairState
	SchemaError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case NotBound:
		return "not_bound"
	case AlreadyBound:
		return "already_bound"
	case AmbiguousBinding:
		return "ambiguous_binding"
	case InvalidURL:
		return "invalid_url"
	case NoToken:
		return "no_token"
	case Unauthorized:
		return "unauthorized"
	case NetworkError:
		return "network_error"
	case CryptoError:
		return "crypto_error"
	case IllegalPairState:
		return "illegal_pair_state"
	case SchemaError:
		return "schema_error"
	default:
		return "unknown"
	}
}

// Error implements the error interface on Kind itself so that bare sentinels
// (ctlerr.NotFound) can be passed directly to errors.Is.
func (k Kind) Error() string { return k.String() }

// Error is a wrapped, inspectable error carrying one of the Kind sentinels,
// the operation that produced it, and the underlying cause (if any).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ctlerr.NotFound) style comparisons against a bare
// Kind sentinel.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or zero-value Kind if err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
