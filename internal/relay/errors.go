// Package relay implements the streaming completion relay: the state machine
// that turns one user message into a durable transcript entry and a live,
// incrementally delivered assistant reply.
package relay

import (
	"errors"
	"fmt"
)

// Kind classifies exchange failures.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindUpstream        Kind = "upstream_error"
	KindEmptyCompletion Kind = "empty_completion"
	KindPersistence     Kind = "persistence_error"
)

// Error is a classified exchange failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind, or an empty Kind for unclassified errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsKind reports whether err is an exchange failure of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}
