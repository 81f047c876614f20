package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures so callers can decide between skipping
// a single entity and aborting the cycle.
type Kind int

const (
	// KindTransport covers network, protocol and SQL failures
	KindTransport Kind = iota + 1
	// KindNotFound signals that the referenced entity no longer exists upstream
	KindNotFound
	// KindConfig signals missing or invalid configuration for one operation
	KindConfig
	// KindExhausted signals that a unique key or name could not be allocated
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is a tagged gateway error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with kind
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first tagged error in err's chain.
// Untagged errors are treated as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindTransport
}

// IsNotFound reports whether err signals a missing upstream entity
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConfig reports whether err signals missing configuration
func IsConfig(err error) bool {
	return KindOf(err) == KindConfig
}
