// Package repeatererr defines the error kinds used across the repeater core.
//
// Every fatal condition during setup (configuration, validation, socket
// creation) and every per-packet condition during the event loop is one of
// the kinds below. Centralizing them here means configuration and
// validation code can return errors instead of calling os.Exit directly;
// only cmd/repeaterd decides whether an error is fatal to the process.
package repeatererr

import (
	"errors"
	"fmt"
)

// Kind identifies which class of failure an error belongs to.
type Kind int

const (
	// KindConfiguration covers malformed/missing fields, bad ids, duplicate
	// ids, invalid IPv4 literals, and out-of-range ports.
	KindConfiguration Kind = iota
	// KindValidation covers dangling cross-references and unused entities.
	KindValidation
	// KindSocket covers socket creation, binding, and option-setting failures.
	KindSocket
	// KindRecv covers a per-packet receive failure on an ingress socket.
	KindRecv
	// KindSend covers a per-packet send failure on an egress socket.
	KindSend
	// KindPoll covers a failure of the multiplexed readiness wait itself.
	KindPoll
	// KindResourceExhaustion covers exceeding an implementation-defined limit.
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindValidation:
		return "ValidationError"
	case KindSocket:
		return "SocketError"
	case KindRecv:
		return "RuntimeRecvError"
	case KindSend:
		return "RuntimeSendError"
	case KindPoll:
		return "PollError"
	case KindResourceExhaustion:
		return "ResourceExhaustion"
	default:
		return "UnknownError"
	}
}

// Error is a typed, wrapped error carrying the component/operation that
// failed and the entity id involved, if any.
type Error struct {
	Kind Kind
	Op   string // e.g. "create_listener", "open_socket", "recvfrom"
	ID   int    // entity id involved, 0 if not applicable
	Err  error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: %s(id=%d): %v", e.Kind, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a typed Error of the given kind. Returns nil if err is nil.
func New(kind Kind, op string, id int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// Fatal reports whether errors of this kind always abort the process
// (setup-time errors), as opposed to being logged and survived
// (per-packet runtime errors).
func (k Kind) Fatal() bool {
	switch k {
	case KindRecv, KindSend:
		return false
	default:
		return true
	}
}

// Is reports whether err, or an error it wraps, is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
