// Package errors defines the closed set of protocol-layer error kinds used
// throughout the native protocol core, each carrying the wire error code a
// REPLY/ERROR frame must echo back to the client.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// Kind is one of the wire error codes. Values are preserved bit-exact with
// the reference implementation's error enumeration; do not renumber.
type Kind int32

const (
	KindAccess        Kind = 1  // auth missing, ACL rejection, volume writable = false
	KindInvalid       Kind = 3  // decode failure, validation failure, conflicting arguments
	KindNoEntity      Kind = 5  // unknown index/name
	KindProtocolError Kind = 7  // unframing failed, unknown tag, EOF mid-value
	KindTimeout       Kind = 8  // auth timeout, dispatcher timeout
	KindInternal      Kind = 10 // sample cache insertion failure and the like
	KindModInitFailed Kind = 14 // module load failure
	KindBadState      Kind = 15 // operation not allowed in current stream/sink state
	KindProtocolVersion Kind = 17 // version < 8
	KindTooLarge      Kind = 18 // upload size beyond PA_SCACHE_ENTRY_SIZE_MAX
	KindNoExtension   Kind = 21 // unknown extension module / extension callback
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindInvalid:
		return "invalid"
	case KindNoEntity:
		return "no-entity"
	case KindProtocolError:
		return "protocol-error"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	case KindModInitFailed:
		return "mod-init-failed"
	case KindBadState:
		return "bad-state"
	case KindProtocolVersion:
		return "protocol-version"
	case KindTooLarge:
		return "too-large"
	case KindNoExtension:
		return "no-extension"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// protocolMarker is implemented by all protocol-layer error types so we can
// classify an arbitrary error chain as "one of ours".
type protocolMarker interface {
	error
	isProtocol()
}

// Error is the concrete type for every error kind in the closed set. Op
// names the high-level operation (e.g. "stream.create", "decode.tagstruct")
// and Err carries the underlying cause (may be nil).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }
func (e *Error) isProtocol()   {}

// WireCode returns the wire error code to place in an ERROR(tag, code) reply.
func (e *Error) WireCode() Kind { return e.Kind }

// New constructs an *Error of the given kind.
func New(kind Kind, op string, cause error) error { return &Error{Kind: kind, Op: op, Err: cause} }

func NewAccess(op string, cause error) error          { return New(KindAccess, op, cause) }
func NewInvalid(op string, cause error) error         { return New(KindInvalid, op, cause) }
func NewNoEntity(op string, cause error) error        { return New(KindNoEntity, op, cause) }
func NewProtocolError(op string, cause error) error   { return New(KindProtocolError, op, cause) }
func NewProtocolVersion(op string, cause error) error { return New(KindProtocolVersion, op, cause) }
func NewBadState(op string, cause error) error        { return New(KindBadState, op, cause) }
func NewTooLarge(op string, cause error) error        { return New(KindTooLarge, op, cause) }
func NewInternal(op string, cause error) error        { return New(KindInternal, op, cause) }
func NewNoExtension(op string, cause error) error      { return New(KindNoExtension, op, cause) }
func NewModInitFailed(op string, cause error) error    { return New(KindModInitFailed, op, cause) }

// TimeoutError indicates an operation exceeded a deadline or idle timeout.
// Kept as a distinct type (rather than folding into Error) because it also
// carries a Duration used only for logging, never serialized to the wire.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error  { return e.Err }
func (e *TimeoutError) WireCode() Kind { return KindTimeout }

func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error type that exposes Timeout() bool and
// returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsProtocolError returns true if the error chain contains any error of our
// closed kind set. A TimeoutError does not count (use IsTimeout for it).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// WireCode extracts the wire error code from err, defaulting to
// KindInternal when err does not carry one of our kinds.
func WireCode(err error) Kind {
	type coder interface{ WireCode() Kind }
	var c coder
	if stdErrors.As(err, &c) {
		return c.WireCode()
	}
	return KindInternal
}
