package domain

import (
	"errors"
	"fmt"
)

// Code classifies a settlement failure.
type Code string

const (
	CodeInvalidInput               Code = "INVALID_INPUT"
	CodeInvalidAmount              Code = "INVALID_AMOUNT"
	CodeInvalidAction              Code = "INVALID_ACTION"
	CodeSelfTransfer               Code = "SELF_TRANSFER"
	CodeSelfRequest                Code = "SELF_REQUEST"
	CodeRecipientNotFound          Code = "RECIPIENT_NOT_FOUND"
	CodeInsufficientBalance        Code = "INSUFFICIENT_BALANCE"
	CodeNotFound                   Code = "NOT_FOUND"
	CodeForbidden                  Code = "FORBIDDEN"
	CodeAlreadyProcessed           Code = "ALREADY_PROCESSED"
	CodeInvalidRequestState        Code = "INVALID_REQUEST_STATE"
	CodeConcurrentModification     Code = "CONCURRENT_MODIFICATION"
	CodeIdempotencyMismatch        Code = "IDEMPOTENCY_MISMATCH"
	CodeSettlementFailed           Code = "SETTLEMENT_FAILED"
	CodeNotificationDeliveryFailed Code = "NOTIFICATION_DELIVERY_FAILED"
)

// Error is a typed settlement failure with a human-readable message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidInput           = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrInvalidAmount          = &Error{Code: CodeInvalidAmount, Message: "amount must be a positive whole number of minor units within the allowed limit"}
	ErrInvalidAction          = &Error{Code: CodeInvalidAction, Message: "action must be ACCEPT or REJECT"}
	ErrSelfTransfer           = &Error{Code: CodeSelfTransfer, Message: "cannot transfer to yourself"}
	ErrSelfRequest            = &Error{Code: CodeSelfRequest, Message: "cannot request money from yourself"}
	ErrRecipientNotFound      = &Error{Code: CodeRecipientNotFound, Message: "recipient not found"}
	ErrInsufficientBalance    = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrRequestNotFound        = &Error{Code: CodeNotFound, Message: "request not found"}
	ErrForbidden              = &Error{Code: CodeForbidden, Message: "not allowed to respond to this request"}
	ErrAlreadyProcessed       = &Error{Code: CodeAlreadyProcessed, Message: "request has already been processed"}
	ErrInvalidRequestState    = &Error{Code: CodeInvalidRequestState, Message: "stored request is not in a valid state"}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification, Message: "request was modified concurrently"}
	ErrIdempotencyMismatch    = &Error{Code: CodeIdempotencyMismatch, Message: "idempotency key reused with a different payload"}
	ErrSettlementFailed       = &Error{Code: CodeSettlementFailed, Message: "settlement failed, safe to retry"}
)

// Wrap attaches a cause to a sentinel while keeping its code and message.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// Invalid returns an INVALID_INPUT error with a specific message.
func Invalid(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

// CodeOf extracts the code of a domain error, or "" for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
