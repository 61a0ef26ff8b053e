// Package failure classifies workflow errors so callers can branch on what
// went wrong instead of matching message text.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the class of a workflow error.
type Kind string

const (
	KindUnknown             Kind = ""
	KindConfiguration       Kind = "configuration"
	KindTimeout             Kind = "timeout"
	KindRemoteExecution     Kind = "remote_execution"
	KindRejectedCredentials Kind = "rejected_credentials"
	KindStore               Kind = "store"
	KindProvisioning        Kind = "provisioning"
)

// Error is a classified workflow error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Output holds remote command output when there is any.
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration reports a missing or invalid setting.
func Configuration(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, format, args...)
}

// Timeout reports a bounded wait that ran out.
func Timeout(op, format string, args ...any) *Error {
	return New(KindTimeout, op, format, args...)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
