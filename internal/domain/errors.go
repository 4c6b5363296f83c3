package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed edit or upload input. Edits are atomic:
// one validation failure rejects the whole batch with no partial writes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError marks a job or file id the provider does not know about.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ProviderError wraps a transport, auth or quota failure talking to the
// speech provider. It unwraps to the underlying cause so callers can tell a
// cancellation apart from a genuine failure.
type ProviderError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.Status, e.Detail)
	default:
		return fmt.Sprintf("provider %s: status %d", e.Op, e.Status)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a not-found outcome.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
