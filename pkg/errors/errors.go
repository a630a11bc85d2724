// Package errors provides the ledger error taxonomy and RFC 7807 Problem Details.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds. Every error the ledger returns belongs to exactly one kind;
// the kind decides the HTTP status, the code distinguishes the failure branch.
const (
	KindInvalidInput    = "InvalidInput"
	KindNotFound        = "NotFound"
	KindStateConflict   = "StateConflict"
	KindUnauthorized    = "Unauthorized"
	KindTransferFailure = "TransferFailure"
	KindReentrant       = "Reentrant"
	KindUnknown         = "Unknown"
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the taxonomy category of the error
	Kind string `json:"kind"`
	// Code is the specific failure branch within the kind
	Code string `json:"code,omitempty"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindUnknown, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Code != "" {
		str += fmt.Sprintf(" %s:", e.Code)
	}
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

// WithCode returns a copy of the error with the specific failure code set
func (e *Error) WithCode(code string) *Error {
	err := *e
	err.Code = code
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap sets the error cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// Is implements the needed interface for errors.Is.
// Kinds match category-wide; a target with a code only matches that exact branch.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		if other.Code != "" {
			return other.Kind == e.Kind && other.Code == e.Code
		}
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// Taxonomy roots. errors.Is(err, InvalidInput) matches every InvalidInput branch.
var (
	InvalidInput    = NewWithKind(KindInvalidInput)
	NotFound        = NewWithKind(KindNotFound)
	StateConflict   = NewWithKind(KindStateConflict)
	Unauthorized    = NewWithKind(KindUnauthorized)
	TransferFailure = NewWithKind(KindTransferFailure)
	Reentrant       = NewWithKind(KindReentrant)
)

// Failure branches. Each one carries the code reported to callers verbatim.
var (
	ErrInvalidPrice            = InvalidInput.WithCode("InvalidPrice")
	ErrInvalidItemKind         = InvalidInput.WithCode("InvalidItemKind")
	ErrInvalidContentLocator   = InvalidInput.WithCode("InvalidContentLocator")
	ErrInvalidPayment          = InvalidInput.WithCode("InvalidPayment")
	ErrInvalidAmount           = InvalidInput.WithCode("InvalidAmount")
	ErrInvalidAddress          = InvalidInput.WithCode("InvalidAddress")
	ErrInvalidRecipient        = InvalidInput.WithCode("InvalidRecipient")
	ErrFeeRateTooHigh          = InvalidInput.WithCode("FeeRateTooHigh")
	ErrInvalidListingID        = NotFound.WithCode("InvalidListingId")
	ErrAccountNotFound         = NotFound.WithCode("AccountNotFound")
	ErrListingNotActive        = StateConflict.WithCode("ListingNotActive")
	ErrListingAlreadyInactive  = StateConflict.WithCode("ListingAlreadyInactive")
	ErrSelfPurchaseForbidden   = Unauthorized.WithCode("SelfPurchaseForbidden")
	ErrInsufficientPayment     = InvalidInput.WithCode("InsufficientPayment")
	ErrInsufficientFunds       = TransferFailure.WithCode("InsufficientFunds")
	ErrAccountFrozen           = TransferFailure.WithCode("AccountFrozen")
	ErrSellerTransferFailed    = TransferFailure.WithCode("SellerTransferFailed")
	ErrFeeTransferFailed       = TransferFailure.WithCode("FeeTransferFailed")
	ErrRefundFailed            = TransferFailure.WithCode("RefundFailed")
	ErrBuyerDebitFailed        = TransferFailure.WithCode("BuyerDebitFailed")
	ErrReentrantCall           = Reentrant.WithCode("Reentrant")
)
