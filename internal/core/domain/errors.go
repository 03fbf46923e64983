package domain

import "errors"

// Kind classifies failures crossing the service boundary.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindStockUnavailable  Kind = "STOCK_UNAVAILABLE"
	KindPaymentRejected   Kind = "PAYMENT_REJECTED"
	KindPaymentMismatch   Kind = "PAYMENT_MISMATCH"
	KindDuplicatePayment  Kind = "DUPLICATE_PAYMENT"
	KindTransientConflict Kind = "TRANSIENT_CONFLICT"
	KindCorruptPayload    Kind = "CORRUPT_PAYLOAD"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindFatal             Kind = "FATAL"
)

// Error is the domain error type. Two errors match under errors.Is when
// their kinds are equal.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

var (
	ErrValidation        = NewError(KindValidation, "validation failed")
	ErrStockUnavailable  = NewError(KindStockUnavailable, "insufficient stock")
	ErrPaymentRejected   = NewError(KindPaymentRejected, "payment rejected")
	ErrPaymentMismatch   = NewError(KindPaymentMismatch, "payment mismatch")
	ErrDuplicatePayment  = NewError(KindDuplicatePayment, "payment has already been used for another order")
	ErrTransientConflict = NewError(KindTransientConflict, "write conflict")
	ErrCorruptPayload    = NewError(KindCorruptPayload, "corrupt payload")
	ErrNotFound          = NewError(KindNotFound, "not found")
	ErrForbidden         = NewError(KindForbidden, "forbidden")
	ErrFatal             = NewError(KindFatal, "order could not be completed, please try again")
)

// KindOf returns the kind of the first domain error in err's chain, or
// KindFatal when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindFatal
}

// Retriable reports whether the allocator may retry the atomic step.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}
