package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidAmount        ErrorCode = "invalid_amount"
	InsufficientFunds    ErrorCode = "insufficient_funds"
	AccountNotActive     ErrorCode = "account_not_active"
	SelfTransfer         ErrorCode = "self_transfer"
	LimitExceeded        ErrorCode = "limit_exceeded"
	AuthenticationFailed ErrorCode = "authentication_failed"
	DuplicateRequest     ErrorCode = "duplicate_request"
	NotFound             ErrorCode = "not_found"
	AlreadySettled       ErrorCode = "already_settled"
	Expired              ErrorCode = "expired"
	LockConflict         ErrorCode = "lock_conflict"
	InternalError        ErrorCode = "internal_error"

	// Boundary codes, produced before a request reaches the core.
	InvalidInput ErrorCode = "invalid_input"
	Forbidden    ErrorCode = "forbidden"
	Unauthorized ErrorCode = "unauthorized"
)

type AppError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so that copies produced by
// WithDetails or WithMeta still match the predefined errors below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy of e with details set.
func (e *AppError) WithDetails(details string) *AppError {
	c := e.clone()
	c.Details = details
	return c
}

// WithMeta returns a copy of e with key set in its metadata.
func (e *AppError) WithMeta(key, value string) *AppError {
	c := e.clone()
	if c.Meta == nil {
		c.Meta = make(map[string]string)
	}
	c.Meta[key] = value
	return c
}

func (e *AppError) clone() *AppError {
	c := *e
	if e.Meta != nil {
		c.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidAmount, SelfTransfer, InvalidInput:
		return http.StatusBadRequest
	case AuthenticationFailed, Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case DuplicateRequest, AlreadySettled, LockConflict:
		return http.StatusConflict
	case Expired:
		return http.StatusGone
	case InsufficientFunds, AccountNotActive, LimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the error is a transient lock conflict.
func Retryable(err error) bool {
	return stderrors.Is(err, ErrLockConflict)
}

// AsAppError unwraps err into an *AppError, wrapping anything else as an
// internal error.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrUnexpected.WithDetails(err.Error())
}

// Internal wraps an infrastructure failure.
func Internal(message string, err error) *AppError {
	appErr := NewAppError(InternalError, message)
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// Predefined errors for common cases
var (
	ErrInvalidAmount        = NewAppError(InvalidAmount, "amount must be positive with at most two decimal places")
	ErrInsufficientFunds    = NewAppError(InsufficientFunds, "insufficient funds")
	ErrAccountNotActive     = NewAppError(AccountNotActive, "account is not active")
	ErrSelfTransfer         = NewAppError(SelfTransfer, "cannot transfer to the same account")
	ErrLimitExceeded        = NewAppError(LimitExceeded, "transfer limit exceeded")
	ErrAuthenticationFailed = NewAppError(AuthenticationFailed, "credential verification failed")
	ErrDuplicateRequest     = NewAppError(DuplicateRequest, "request already processed")
	ErrAccountNotFound      = NewAppError(NotFound, "account not found")
	ErrEntryNotFound        = NewAppError(NotFound, "ledger entry not found")
	ErrScheduleNotFound     = NewAppError(NotFound, "scheduled transfer not found")
	ErrQrPaymentNotFound    = NewAppError(NotFound, "qr payment not found")
	ErrAlreadySettled       = NewAppError(AlreadySettled, "already settled")
	ErrExpired              = NewAppError(Expired, "expired")
	ErrLockConflict         = NewAppError(LockConflict, "concurrent update conflict, retry the request")
	ErrUnexpected           = NewAppError(InternalError, "an unexpected error occurred")
	ErrInvalidInput         = NewAppError(InvalidInput, "invalid input")
	ErrForbidden            = NewAppError(Forbidden, "access denied")
	ErrUnauthorized         = NewAppError(Unauthorized, "missing or invalid credentials")
	ErrDuplicateAccount     = NewAppError(DuplicateRequest, "account already exists")

	ErrCannotBeginTransaction = NewAppError(InternalError, "cannot begin a transaction inside another transaction")
)
