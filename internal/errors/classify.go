package errors

import (
	"context"
	"errors"
	"fmt"
)

// Classify wraps err for the retry loop. Context cancellation and deadline
// expiry are irrecoverable: retrying a job whose caller already gave up only
// stalls the shard. Network-level failures are recoverable since relays drop
// connections routinely.
func Classify(operation string, err error) *ClassifiedError {
	category := Recoverable
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		category = Irrecoverable
	}
	return &ClassifiedError{Category: category, Operation: operation, Underlying: err}
}

// NewNetworkError creates a classified error for relay transport failures.
// These are always recoverable as they may be transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Operation:  operation,
		Underlying: fmt.Errorf("network error: %w", err),
	}
}

// NewPermanent marks err as irrecoverable, for authorization and
// programmer-error failures that must surface instead of retrying.
func NewPermanent(operation string, err error) *ClassifiedError {
	return &ClassifiedError{Category: Irrecoverable, Operation: operation, Underlying: err}
}
