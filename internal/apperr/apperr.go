// Package apperr carries the error taxonomy shared by every core component.
// Each error has a Kind (what the caller should do about it) and a stable Code
// that UI layers can map without parsing messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindDependency    Kind = "dependency"
	KindInternal      Kind = "internal"
)

// Stable error codes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeItemInvalid      = "ITEM_INVALID"
	CodeMethodInvalid    = "PAYMENT_METHOD_INVALID"
	CodeSessionConflict  = "SESSION_CONFLICT"
	CodeNoOpenSession    = "NO_OPEN_SESSION"
	CodeSessionClosed    = "SESSION_CLOSED"
	CodeLockTimeout      = "LOCK_TIMEOUT"
	CodeBusy             = "BUSY"
	CodePaymentBound     = "PAYMENT_BOUND"
	CodeInsufficientCash = "INSUFFICIENT_CASH"
	CodeTableLocked      = "TABLE_LOCKED"
	CodeTableOccupied    = "TABLE_OCCUPIED"
	CodeUnderpaid        = "UNDERPAID"
	CodeOverpaid         = "OVERPAID"
	CodeConflict         = "CONFLICT"
	CodeNotFound         = "NOT_FOUND"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeDependency       = "DEPENDENCY_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is the single error type returned across component boundaries.
type Error struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinels compare with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e carrying one more detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrLockTimeout     = &Error{Kind: KindConflict, Code: CodeLockTimeout, Message: "lock acquisition timed out"}
	ErrBusy            = &Error{Kind: KindConflict, Code: CodeBusy, Message: "resource busy, try again"}
	ErrSessionConflict = &Error{Kind: KindConflict, Code: CodeSessionConflict, Message: "an open session of this type already exists"}
	ErrNoOpenSession   = &Error{Kind: KindConflict, Code: CodeNoOpenSession, Message: "no open cashier session"}
	ErrSessionClosed   = &Error{Kind: KindConflict, Code: CodeSessionClosed, Message: "cashier session is closed"}
	ErrPaymentBound    = &Error{Kind: KindConflict, Code: CodePaymentBound, Message: "payments already exceed the resulting total"}
	ErrNotFound        = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
	ErrAuthRequired    = &Error{Kind: KindAuthorization, Code: CodeAuthRequired, Message: "elevated authorization required"}
	ErrItemInvalid     = &Error{Kind: KindValidation, Code: CodeItemInvalid, Message: "invalid item"}
)

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a Validation error with the generic code.
func Validation(format string, args ...any) *Error {
	return newf(KindValidation, CodeValidation, format, args...)
}

// ValidationCode builds a Validation error with a specific code.
func ValidationCode(code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

// Conflict builds a Conflict error.
func Conflict(code, format string, args ...any) *Error {
	return newf(KindConflict, code, format, args...)
}

// NotFound builds a NotFound error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", entity, id),
		Details: map[string]string{"entity": entity, "id": id},
	}
}

// Authorization builds an Authorization error.
func Authorization(code, format string, args ...any) *Error {
	return newf(KindAuthorization, code, format, args...)
}

// Dependency wraps a collaborator failure.
func Dependency(collaborator string, err error) *Error {
	return &Error{
		Kind:    KindDependency,
		Code:    CodeDependency,
		Message: collaborator + " failed",
		Details: map[string]string{"collaborator": collaborator},
		Err:     err,
	}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: op, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		if CodeOf(err) == CodeBusy || CodeOf(err) == CodeLockTimeout {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
