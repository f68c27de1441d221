package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors used as marks on InternalError. Callers classify errors
// with the Is* predicates below rather than comparing directly.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("item not found")
	ErrAlreadyExists      = errors.New("item already exists")
	ErrVersionConflict    = errors.New("version conflict")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponExhausted    = errors.New("coupon exhausted")
	ErrCardDeclined       = errors.New("card declined")
	ErrProcessorTransient = errors.New("transient processor error")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrHTTPClient         = errors.New("http client error")
	ErrDatabase           = errors.New("database error")
	ErrInternal           = errors.New("internal error")
)

// IsNotFound returns true if the error is marked as a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCouponNotFound)
}

// IsValidation returns true if the error is marked as a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists returns true if the error is marked as an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict returns true if the error is marked as an optimistic
// concurrency conflict; callers should re-read the entity and retry.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInvalidOperation returns true if the error is marked as a state machine misuse
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsDeclined returns true if the error is marked as a card decline
func IsDeclined(err error) bool {
	return errors.Is(err, ErrCardDeclined)
}

// IsTransient returns true if the error is marked as a transient processor error
func IsTransient(err error) bool {
	return errors.Is(err, ErrProcessorTransient)
}

// IsDatabase returns true if the error is marked as a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}
