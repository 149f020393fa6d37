package repository

import (
	stderrors "errors"

	"github.com/lib/pq"

	"moneygo/internal/errors"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err)
	if !ok || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// lockConflict maps deadlocks, serialization failures and lock timeouts to
// ErrLockConflict. It returns nil for any other error.
func lockConflict(err error) *errors.AppError {
	pqErr, ok := pqError(err)
	if !ok {
		return nil
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
		return errors.ErrLockConflict.WithDetails(pqErr.Message)
	}
	return nil
}

// mapError converts a driver error into an AppError, keeping lock conflicts
// retryable.
func mapError(err error, message string) error {
	if appErr := lockConflict(err); appErr != nil {
		return appErr
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.Internal(message, err)
}
