package errutil

import (
	"context"
	"errors"
)

// IsPermanent reports whether err should never be retried. Malformed input and
// authorization problems stay broken no matter how often the job runs again;
// everything else (store timeouts, network errors, unknown failures) is assumed
// transient and retried under the attempt budget.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var be BaseError
	if errors.As(err, &be) {
		switch be.Code {
		case StatusBadRequest, StatusValidationFailed, StatusUnprocessableEntity,
			StatusUnauthorized, StatusForbidden, StatusNotFound:
			return true
		}
	}

	return false
}

// IsTransient is the complement of IsPermanent for non-nil errors. Context
// cancellation and deadline expiry count as transient: a timed-out execution is
// retried under the normal policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !IsPermanent(err)
}
