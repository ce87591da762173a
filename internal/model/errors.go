package model

import (
	"errors"
	"fmt"
)

// TransientError marks a collaborator failure (timeout, rate limit,
// unavailability) that is retried with backoff and never fatal to a caller.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks rejected input: malformed extractor output, unknown
// namespaces, empty queries. Never retried as-is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// DurabilityError marks a failed atomic write. It is surfaced to the caller
// because it threatens the records-first-watermark-second ordering.
type DurabilityError struct {
	Op  string
	Err error
}

func (e *DurabilityError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *DurabilityError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsDurability reports whether err is a durability failure.
func IsDurability(err error) bool {
	var de *DurabilityError
	return errors.As(err, &de)
}
